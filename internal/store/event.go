package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/todo/internal/event"
	"github.com/dukerupert/todo/internal/model"
)

// EventStore persists events in SQLite. It stamps created_date on insert and
// edit_date on every write.
type EventStore struct {
	db    *sql.DB
	today func() model.Date
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:    db,
		today: func() model.Date { return model.DateOf(time.Now()) },
	}
}

// SetToday replaces the clock used for the audit dates.
func (s *EventStore) SetToday(fn func() model.Date) {
	s.today = fn
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var deadline model.Date

	err := scanner.Scan(
		&e.ID, &e.Title, &e.Description, &deadline,
		&e.Status, &e.Priority, &e.CreatedDate, &e.EditDate,
	)
	if err != nil {
		return nil, err
	}

	if !deadline.IsZero() {
		e.Deadline = &deadline
	}
	return &e, nil
}

const eventCols = `id, title, description, deadline, status, priority, created_date, edit_date`

var sortColumns = map[event.SortField]string{
	event.SortTitle:       "title",
	event.SortDescription: "description",
	event.SortDeadline:    "deadline",
	event.SortStatus:      "status",
	event.SortPriority:    "priority",
	event.SortCreatedDate: "created_date",
	event.SortEditDate:    "edit_date",
}

// Save inserts e when it has no id and upserts it otherwise.
func (s *EventStore) Save(ctx context.Context, e *model.Event) (*model.Event, error) {
	today := s.today()

	var deadline any
	if e.Deadline != nil {
		deadline = *e.Deadline
	}

	if e.ID == 0 {
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO events (title, description, deadline, status, priority, created_date, edit_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Title, e.Description, deadline, e.Status, e.Priority, today, today,
		)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		return s.FindByID(ctx, id)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, description, deadline, status, priority, created_date, edit_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   deadline = excluded.deadline,
		   status = excluded.status,
		   priority = excluded.priority,
		   edit_date = excluded.edit_date`,
		e.ID, e.Title, e.Description, deadline, e.Status, e.Priority, today, today,
	)
	if err != nil {
		return nil, fmt.Errorf("save event %d: %w", e.ID, err)
	}
	return s.FindByID(ctx, e.ID)
}

func (s *EventStore) FindByID(ctx context.Context, id int64) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *EventStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (s *EventStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return fmt.Errorf("delete all events: %w", err)
	}
	return nil
}

// FindAll returns every event in insertion order.
func (s *EventStore) FindAll(ctx context.Context) ([]model.Event, error) {
	return s.query(ctx, `SELECT `+eventCols+` FROM events ORDER BY id ASC`)
}

// FindAllOrderedBy returns every event sorted ascending by field, ties broken
// by insertion order. Enum columns sort by their stored names.
func (s *EventStore) FindAllOrderedBy(ctx context.Context, field event.SortField) ([]model.Event, error) {
	col, ok := sortColumns[field]
	if !ok {
		return nil, fmt.Errorf("unknown sort field %q", field)
	}
	return s.query(ctx, `SELECT `+eventCols+` FROM events ORDER BY `+col+` ASC, id ASC`)
}

func (s *EventStore) query(ctx context.Context, q string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

var _ event.Store = (*EventStore)(nil)
