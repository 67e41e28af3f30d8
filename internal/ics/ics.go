// Package ics renders events with deadlines as an iCalendar feed.
package ics

import (
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/todo/internal/model"
)

const (
	DefaultProductID = "-//todo//events//EN"
	DefaultName      = "Todo deadlines"
)

// iCalendar priorities run 1 (highest) to 9 (lowest).
var priorities = map[model.Priority]int{
	model.PriorityCritical: 1,
	model.PriorityHigh:     3,
	model.PriorityMedium:   5,
	model.PriorityLow:      9,
}

type Options struct {
	Name      string
	ProductID string
	// Host qualifies event UIDs.
	Host string
	// Stamp is written as DTSTAMP on every event. Defaults to time.Now.
	Stamp time.Time
}

// UID returns the stable identifier of event id.
func UID(id int64, host string) string {
	if host == "" {
		host = "todo"
	}
	return fmt.Sprintf("event-%d@%s", id, host)
}

// Render serializes every event that has a deadline as an all-day VEVENT.
// Events without a deadline are skipped.
func Render(events []model.Event, opts Options) string {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ProductID == "" {
		opts.ProductID = DefaultProductID
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	cal.SetXWRCalName(opts.Name)

	for i := range events {
		e := &events[i]
		if e.Deadline == nil {
			continue
		}

		ve := cal.AddEvent(UID(e.ID, opts.Host))
		ve.SetDtStampTime(opts.Stamp.UTC())
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		ve.SetAllDayStartAt(e.Deadline.Time())
		ve.SetAllDayEndAt(e.Deadline.AddDays(1).Time())
		if p, ok := priorities[e.Priority]; ok {
			ve.SetProperty(ical.ComponentPropertyPriority, strconv.Itoa(p))
		}
		ve.SetProperty(ical.ComponentPropertyStatus, icalStatus(e.Status))
		ve.SetProperty(ical.ComponentPropertyCategories, string(e.Status))
		if !e.EditDate.IsZero() {
			ve.SetProperty(ical.ComponentPropertyLastModified, e.EditDate.Time().UTC().Format("20060102T150405Z"))
		}
	}

	return cal.Serialize()
}

func icalStatus(s model.Status) string {
	switch s {
	case model.StatusCompleted, model.StatusLate:
		return "COMPLETED"
	default:
		return "CONFIRMED"
	}
}
