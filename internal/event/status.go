package event

import (
	"github.com/dukerupert/todo/internal/model"
)

// Reconcile returns the status an event should hold on the given day.
// Completed and Late swap as the deadline crosses today; Active and Overdue
// likewise. A missing deadline always means Active.
func Reconcile(deadline *model.Date, current model.Status, today model.Date) model.Status {
	if deadline == nil || deadline.IsZero() {
		return model.StatusActive
	}

	done := current == model.StatusCompleted || current == model.StatusLate
	if deadline.Before(today) {
		switch {
		case current == model.StatusCompleted:
			return model.StatusLate
		case !done:
			return model.StatusOverdue
		}
		return current
	}

	switch {
	case current == model.StatusLate:
		return model.StatusCompleted
	case !done:
		return model.StatusActive
	}
	return current
}

// Complete returns the status after marking an event done. Finishing an
// overdue event makes it Late.
func Complete(current model.Status) model.Status {
	if current == model.StatusOverdue {
		return model.StatusLate
	}
	return model.StatusCompleted
}

// Uncomplete reverses Complete.
func Uncomplete(current model.Status) model.Status {
	if current == model.StatusLate {
		return model.StatusOverdue
	}
	return model.StatusActive
}
