package handler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/todo/internal/event"
	"github.com/dukerupert/todo/internal/model"
)

const minTitleLength = 4

var (
	errTitleRequired = errors.New("title is required")
	errTitleTooShort = fmt.Errorf("title must be at least %d characters", minTitleLength)
)

type createRequest struct {
	Title       *string     `json:"title"`
	Description string      `json:"description"`
	Deadline    *model.Date `json:"deadline"`
	Priority    string      `json:"priority"`
}

type editRequest struct {
	Title       *string     `json:"title"`
	Description *string     `json:"description"`
	Deadline    *model.Date `json:"deadline"`
	Priority    string      `json:"priority"`
}

func validateTitle(title *string) error {
	if title == nil {
		return errTitleRequired
	}
	if utf8.RuneCountInString(*title) < minTitleLength {
		return errTitleTooShort
	}
	return nil
}

func parsePriority(s string) (model.Priority, error) {
	p := model.Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("priority must be one of Critical, High, Medium, Low; got %q", s)
	}
	return p, nil
}

func parseStatus(s string) (model.Status, error) {
	st := model.Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("status must be one of Active, Completed, Overdue, Late; got %q", s)
	}
	return st, nil
}

func parseDate(name, s string) (model.Date, error) {
	d, err := model.ParseDate(model.DateLayout, s)
	if err != nil {
		return model.Date{}, fmt.Errorf("%s must be YYYY-MM-DD; got %q", name, s)
	}
	return d, nil
}

// validateCreate checks a create request and converts it for the service.
// The title length is checked on the raw title, markers included.
func validateCreate(req createRequest) (event.NewEvent, error) {
	if err := validateTitle(req.Title); err != nil {
		return event.NewEvent{}, err
	}
	in := event.NewEvent{
		Title:       *req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
	}
	if req.Priority != "" {
		p, err := parsePriority(req.Priority)
		if err != nil {
			return event.NewEvent{}, err
		}
		in.Priority = p
	}
	return in, nil
}

func validateEdit(req editRequest) (event.EditEvent, error) {
	if err := validateTitle(req.Title); err != nil {
		return event.EditEvent{}, err
	}
	if req.Description == nil {
		return event.EditEvent{}, event.ErrDescriptionRequired
	}
	if req.Priority == "" {
		return event.EditEvent{}, event.ErrPriorityRequired
	}
	p, err := parsePriority(req.Priority)
	if err != nil {
		return event.EditEvent{}, err
	}
	return event.EditEvent{
		Title:       *req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
		Priority:    p,
	}, nil
}

// parseListFilter reads the sort probes from q. Text probes count whenever
// the key is present, even empty. Typed probes are ignored when empty and
// rejected when malformed.
func parseListFilter(q url.Values) (event.ListFilter, error) {
	var f event.ListFilter

	if q.Has("title") {
		v := q.Get("title")
		f.Title = &v
	}
	if q.Has("description") {
		v := q.Get("description")
		f.Description = &v
	}

	dates := []struct {
		key string
		dst **model.Date
	}{
		{"deadline", &f.Deadline},
		{"creationDate", &f.CreatedDate},
		{"editDate", &f.EditDate},
	}
	for _, d := range dates {
		v := strings.TrimSpace(q.Get(d.key))
		if v == "" {
			continue
		}
		parsed, err := parseDate(d.key, v)
		if err != nil {
			return event.ListFilter{}, err
		}
		*d.dst = &parsed
	}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st, err := parseStatus(v)
		if err != nil {
			return event.ListFilter{}, err
		}
		f.Status = &st
	}
	if v := strings.TrimSpace(q.Get("priority")); v != "" {
		p, err := parsePriority(v)
		if err != nil {
			return event.ListFilter{}, err
		}
		f.Priority = &p
	}
	return f, nil
}
