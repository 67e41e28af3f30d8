package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/todo/internal/event"
	"github.com/dukerupert/todo/internal/ics"
	"github.com/dukerupert/todo/internal/model"
	"github.com/dukerupert/todo/internal/websocket"
)

type EventHandler struct {
	svc    *event.Service
	hub    *websocket.Hub
	feed   ics.Options
	logger *slog.Logger
}

// NewEventHandler wires the event routes. hub may be nil.
func NewEventHandler(svc *event.Service, hub *websocket.Hub, feed ics.Options, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{svc: svc, hub: hub, feed: feed, logger: logger}
}

func (h *EventHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.serviceError(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	in, err := validateCreate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.serviceError(w, r, "create event", err)
		return
	}
	h.broadcast(websocket.EventMessage(websocket.ActionCreated, e))
	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	in, err := validateEdit(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.svc.Edit(r.Context(), id, in)
	if err != nil {
		h.serviceError(w, r, "edit event", err)
		return
	}
	h.broadcast(websocket.EventMessage(websocket.ActionUpdated, e))
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.serviceError(w, r, "delete event", err)
		return
	}
	h.broadcast(websocket.NewMessage(websocket.EntityEvent, websocket.ActionDeleted, id, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAll(r.Context()); err != nil {
		h.serviceError(w, r, "delete all events", err)
		return
	}
	h.broadcast(websocket.NewMessage(websocket.EntityEvent, websocket.ActionDeletedAll, 0, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	e, err := h.svc.MarkComplete(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "complete event", err)
		return
	}
	h.broadcast(websocket.EventMessage(websocket.ActionCompleted, e))
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) MarkIncomplete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	e, err := h.svc.MarkIncomplete(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "uncomplete event", err)
		return
	}
	h.broadcast(websocket.EventMessage(websocket.ActionUncompleted, e))
	writeJSON(w, http.StatusOK, e)
}

// Calendar serves every event with a deadline as an iCalendar feed.
func (h *EventHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.List(r.Context(), event.ListFilter{})
	if err != nil {
		h.serviceError(w, r, "list events for calendar", err)
		return
	}

	opts := h.feed
	if opts.Stamp.IsZero() {
		opts.Stamp = h.svc.Now()
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ics.Render(events, opts)))
}

// serviceError maps service errors to responses. Anything unrecognized is
// logged and reported as a 500 without detail.
func (h *EventHandler) serviceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, event.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, event.ErrDescriptionRequired), errors.Is(err, event.ErrPriorityRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(op, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
