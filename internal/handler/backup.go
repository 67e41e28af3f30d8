package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/todo/internal/backup"
	"github.com/dukerupert/todo/internal/model"
)

const (
	defaultBackupListLimit = 20
	maxBackupListLimit     = 200
)

type backupRunner interface {
	Status() backup.Status
	RunNow(ctx context.Context) (int64, error)
}

type backupLister interface {
	List(ctx context.Context, limit int) ([]model.Backup, error)
	GetByID(ctx context.Context, id int64) (*model.Backup, error)
}

type BackupHandler struct {
	mgr    backupRunner
	store  backupLister
	logger *slog.Logger
}

func NewBackupHandler(mgr backupRunner, store backupLister, logger *slog.Logger) *BackupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupHandler{mgr: mgr, store: store, logger: logger}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultBackupListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxBackupListLimit)
	}

	backups, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, backups)
}

// Run takes a backup synchronously and returns its record.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := h.mgr.RunNow(r.Context())
	switch {
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, backup.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}

	record, err := h.store.GetByID(r.Context(), id)
	if err != nil || record == nil {
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, record)
}
