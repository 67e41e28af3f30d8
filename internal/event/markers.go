package event

import (
	"regexp"
	"strings"

	"github.com/dukerupert/todo/internal/model"
)

var (
	// "!" plus one digit 1-4 selects a priority, even inside a longer run:
	// "!12" reads as "!1" followed by a bare "2".
	priorityMarker = regexp.MustCompile(`!([1-4])`)

	// Leftover "!" + digits runs that select nothing.
	loosePriorityMarker = regexp.MustCompile(`!(\d+)`)

	// Separators must match: both "-" or both ".".
	deadlineMarker = regexp.MustCompile(`!before (\d{2}-\d{2}-\d{4}|\d{2}\.\d{2}\.\d{4})`)

	// Residual date-shaped markers with mixed or foreign separators.
	looseDeadlineMarker = regexp.MustCompile(`!before (\d{2}.\d{2}.\d{4})`)
)

var markerPriorities = map[string]model.Priority{
	"1": model.PriorityCritical,
	"2": model.PriorityHigh,
	"3": model.PriorityMedium,
	"4": model.PriorityLow,
}

// ParsePriority strips every priority marker from title. ok is true when a
// valid marker was found; p is the priority of the first one.
func ParsePriority(title string) (cleaned string, p model.Priority, ok bool) {
	if m := priorityMarker.FindStringSubmatch(title); m != nil {
		p, ok = markerPriorities[m[1]], true
	}
	cleaned = priorityMarker.ReplaceAllString(title, "")
	cleaned = loosePriorityMarker.ReplaceAllString(cleaned, "")
	return cleaned, p, ok
}

// ParseDeadline strips every deadline marker from title. ok is true when the
// first well-formed marker holds a real calendar date.
func ParseDeadline(title string) (cleaned string, d model.Date, ok bool) {
	if m := deadlineMarker.FindStringSubmatch(title); m != nil {
		layout := "02.01.2006"
		if strings.Contains(m[1], "-") {
			layout = "02-01-2006"
		}
		if parsed, err := model.ParseDate(layout, m[1]); err == nil {
			d, ok = parsed, true
		}
	}
	cleaned = deadlineMarker.ReplaceAllString(title, "")
	cleaned = looseDeadlineMarker.ReplaceAllString(cleaned, "")
	return cleaned, d, ok
}

// applyMarkers rewrites e in place for creation. Values the caller supplied
// win over markers, but the marker text is stripped either way.
func applyMarkers(e *model.Event) {
	title, prio, ok := ParsePriority(e.Title)
	e.Title = title
	if e.Priority == "" {
		if ok {
			e.Priority = prio
		} else {
			e.Priority = model.PriorityMedium
		}
	}

	title, deadline, ok := ParseDeadline(e.Title)
	e.Title = title
	if e.Deadline == nil && ok {
		e.Deadline = &deadline
	}
}
