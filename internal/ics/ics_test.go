package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/todo/internal/model"
)

func datePtr(y int, m time.Month, d int) *model.Date {
	v := model.NewDate(y, m, d)
	return &v
}

func TestRenderSkipsEventsWithoutDeadline(t *testing.T) {
	events := []model.Event{
		{ID: 1, Title: "Pay rent", Description: "landlord", Deadline: datePtr(2026, 3, 1), Status: model.StatusActive, Priority: model.PriorityCritical},
		{ID: 2, Title: "Someday", Status: model.StatusActive, Priority: model.PriorityLow},
		{ID: 3, Title: "Tax return", Deadline: datePtr(2026, 1, 31), Status: model.StatusLate, Priority: model.PriorityMedium},
	}

	out := Render(events, Options{Stamp: time.Date(2026, 2, 5, 8, 0, 0, 0, time.UTC)})

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse rendered calendar: %v\n%s", err, out)
	}

	got := cal.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}

	first := got[0]
	if uid := first.GetProperty(ical.ComponentPropertyUniqueId); uid == nil || uid.Value != "event-1@todo" {
		t.Errorf("uid = %v, want event-1@todo", uid)
	}
	if p := first.GetProperty(ical.ComponentPropertySummary); p == nil || p.Value != "Pay rent" {
		t.Errorf("summary = %v, want Pay rent", p)
	}
	if p := first.GetProperty(ical.ComponentPropertyPriority); p == nil || p.Value != "1" {
		t.Errorf("priority = %v, want 1", p)
	}
	if p := first.GetProperty(ical.ComponentPropertyStatus); p == nil || p.Value != "CONFIRMED" {
		t.Errorf("status = %v, want CONFIRMED", p)
	}
	if p := first.GetProperty(ical.ComponentPropertyDtStart); p == nil || p.Value != "20260301" {
		t.Errorf("dtstart = %v, want 20260301", p)
	}
	if p := first.GetProperty(ical.ComponentPropertyDtEnd); p == nil || p.Value != "20260302" {
		t.Errorf("dtend = %v, want 20260302", p)
	}

	second := got[1]
	if p := second.GetProperty(ical.ComponentPropertyStatus); p == nil || p.Value != "COMPLETED" {
		t.Errorf("status = %v, want COMPLETED", p)
	}
	if p := second.GetProperty(ical.ComponentPropertyCategories); p == nil || p.Value != "Late" {
		t.Errorf("categories = %v, want Late", p)
	}
	if p := second.GetProperty(ical.ComponentPropertyDescription); p != nil {
		t.Errorf("expected no description, got %q", p.Value)
	}
}

func TestRenderEmpty(t *testing.T) {
	out := Render(nil, Options{Name: "Mine"})

	if !strings.Contains(out, "BEGIN:VCALENDAR") || !strings.Contains(out, "END:VCALENDAR") {
		t.Errorf("expected calendar envelope, got %q", out)
	}
	if strings.Contains(out, "BEGIN:VEVENT") {
		t.Error("expected no events")
	}
	if !strings.Contains(out, "X-WR-CALNAME:Mine") {
		t.Errorf("expected calendar name, got %q", out)
	}
}

func TestUID(t *testing.T) {
	if got := UID(9, ""); got != "event-9@todo" {
		t.Errorf("UID = %q, want %q", got, "event-9@todo")
	}
	if got := UID(9, "example.org"); got != "event-9@example.org" {
		t.Errorf("UID = %q, want %q", got, "event-9@example.org")
	}
}
