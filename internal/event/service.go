package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/todo/internal/model"
)

var (
	ErrNotFound            = errors.New("event not found")
	ErrDescriptionRequired = errors.New("description is required")
	ErrPriorityRequired    = errors.New("priority is required")
)

// SortField selects the column List orders by.
type SortField string

const (
	SortNone        SortField = ""
	SortTitle       SortField = "title"
	SortDescription SortField = "description"
	SortDeadline    SortField = "deadline"
	SortStatus      SortField = "status"
	SortPriority    SortField = "priority"
	SortCreatedDate SortField = "createdDate"
	SortEditDate    SortField = "editDate"
)

// Store persists events. FindByID returns nil, nil when the id is absent and
// DeleteByID is a no-op for a missing id.
type Store interface {
	Save(ctx context.Context, e *model.Event) (*model.Event, error)
	FindByID(ctx context.Context, id int64) (*model.Event, error)
	DeleteByID(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	FindAll(ctx context.Context) ([]model.Event, error)
	FindAllOrderedBy(ctx context.Context, field SortField) ([]model.Event, error)
}

// ListFilter carries the optional list query parameters. They only select
// the sort column: the first non-nil field, in declaration order, wins, and
// its value is never compared against anything.
type ListFilter struct {
	Title       *string
	Description *string
	Deadline    *model.Date
	Status      *model.Status
	Priority    *model.Priority
	CreatedDate *model.Date
	EditDate    *model.Date
}

// SortField reports which column f selects, or SortNone.
func (f ListFilter) SortField() SortField {
	switch {
	case f.Title != nil:
		return SortTitle
	case f.Description != nil:
		return SortDescription
	case f.Deadline != nil:
		return SortDeadline
	case f.Status != nil:
		return SortStatus
	case f.Priority != nil:
		return SortPriority
	case f.CreatedDate != nil:
		return SortCreatedDate
	case f.EditDate != nil:
		return SortEditDate
	}
	return SortNone
}

type NewEvent struct {
	Title       string
	Description string
	Deadline    *model.Date
	Priority    model.Priority
}

type EditEvent struct {
	Title       string
	Description *string
	Deadline    *model.Date
	Priority    model.Priority
}

// ReconcileFunc is told about every status correction persisted by a read
// or a sweep.
type ReconcileFunc func(id int64, from, to model.Status)

type Options struct {
	// Location defines when "today" starts. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now         func() time.Time
	OnReconcile ReconcileFunc
}

const lockStripes = 64

// Service implements the event operations on top of a Store.
type Service struct {
	store       Store
	loc         *time.Location
	now         func() time.Time
	onReconcile ReconcileFunc
	logger      *slog.Logger

	// Striped per-id locks serialize read-modify-write cycles on one event.
	locks [lockStripes]sync.Mutex
}

func NewService(store Store, opts Options, logger *slog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		loc:         opts.Location,
		now:         opts.Now,
		onReconcile: opts.OnReconcile,
		logger:      logger,
	}
}

// Now reads the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Today returns the current calendar date in the service's location.
func (s *Service) Today() model.Date {
	return model.DateOf(s.now().In(s.loc))
}

func (s *Service) lock(id int64) func() {
	m := &s.locks[uint64(id)%lockStripes]
	m.Lock()
	return m.Unlock
}

// List returns all events, ordered by the column f selects, with statuses
// reconciled against today.
func (s *Service) List(ctx context.Context, f ListFilter) ([]model.Event, error) {
	var (
		events []model.Event
		err    error
	)
	if field := f.SortField(); field != SortNone {
		events, err = s.store.FindAllOrderedBy(ctx, field)
	} else {
		events, err = s.store.FindAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	today := s.Today()
	for i := range events {
		if _, err := s.reconcile(ctx, &events[i], today); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// Create parses title markers and stores a new Active event.
func (s *Service) Create(ctx context.Context, in NewEvent) (*model.Event, error) {
	e := &model.Event{
		Title:       in.Title,
		Description: in.Description,
		Deadline:    in.Deadline,
		Priority:    in.Priority,
		Status:      model.StatusActive,
	}
	applyMarkers(e)

	saved, err := s.store.Save(ctx, e)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("event created", "id", saved.ID, "priority", saved.Priority, "deadline", saved.Deadline)
	return saved, nil
}

// Edit overwrites the fields of event id that differ from in. The deadline
// is only replaced when in carries one. Status is never touched.
func (s *Service) Edit(ctx context.Context, id int64, in EditEvent) (*model.Event, error) {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	if in.Description == nil {
		return nil, ErrDescriptionRequired
	}
	if in.Priority == "" {
		return nil, ErrPriorityRequired
	}

	if in.Title != e.Title {
		e.Title = in.Title
	}
	if *in.Description != e.Description {
		e.Description = *in.Description
	}
	if in.Deadline != nil && (e.Deadline == nil || !in.Deadline.Equal(*e.Deadline)) {
		d := *in.Deadline
		e.Deadline = &d
	}
	if in.Priority != e.Priority {
		e.Priority = in.Priority
	}

	return s.store.Save(ctx, e)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrNotFound
	}
	return s.store.DeleteByID(ctx, id)
}

func (s *Service) DeleteAll(ctx context.Context) error {
	return s.store.DeleteAll(ctx)
}

// Get returns event id with its status reconciled against today.
func (s *Service) Get(ctx context.Context, id int64) (*model.Event, error) {
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	if _, err := s.reconcile(ctx, e, s.Today()); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) MarkComplete(ctx context.Context, id int64) (*model.Event, error) {
	return s.toggle(ctx, id, Complete)
}

func (s *Service) MarkIncomplete(ctx context.Context, id int64) (*model.Event, error) {
	return s.toggle(ctx, id, Uncomplete)
}

func (s *Service) toggle(ctx context.Context, id int64, next func(model.Status) model.Status) (*model.Event, error) {
	unlock := s.lock(id)
	defer unlock()

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	e.Status = next(e.Status)
	return s.store.Save(ctx, e)
}

// Sweep reconciles every stored event and returns how many were corrected.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	events, err := s.store.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	today := s.Today()
	changed := 0
	for i := range events {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		ok, err := s.reconcile(ctx, &events[i], today)
		if err != nil {
			return changed, fmt.Errorf("sweep event %d: %w", events[i].ID, err)
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// reconcile corrects e's status in place. When it changes, the stored row is
// re-read under the event's lock and written back, and e is replaced by the
// persisted copy. It reports whether a write happened.
func (s *Service) reconcile(ctx context.Context, e *model.Event, today model.Date) (bool, error) {
	if Reconcile(e.Deadline, e.Status, today) == e.Status {
		return false, nil
	}

	unlock := s.lock(e.ID)
	defer unlock()

	stored, err := s.store.FindByID(ctx, e.ID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		// Deleted since it was read; only fix the copy we hand back.
		e.Status = Reconcile(e.Deadline, e.Status, today)
		return false, nil
	}

	from := stored.Status
	to := Reconcile(stored.Deadline, stored.Status, today)
	if to == from {
		*e = *stored
		return false, nil
	}

	stored.Status = to
	saved, err := s.store.Save(ctx, stored)
	if err != nil {
		return false, err
	}
	*e = *saved

	s.logger.Debug("status reconciled", "id", e.ID, "from", from, "to", to)
	if s.onReconcile != nil {
		s.onReconcile(e.ID, from, to)
	}
	return true, nil
}
