package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/todo/internal/backup"
	"github.com/dukerupert/todo/internal/model"
)

type fakeRunner struct {
	status backup.Status
	id     int64
	err    error
	calls  int
}

func (f *fakeRunner) Status() backup.Status { return f.status }

func (f *fakeRunner) RunNow(context.Context) (int64, error) {
	f.calls++
	return f.id, f.err
}

type fakeLister struct {
	backups []model.Backup
	limit   int
	err     error
}

func (f *fakeLister) List(_ context.Context, limit int) ([]model.Backup, error) {
	f.limit = limit
	return f.backups, f.err
}

func (f *fakeLister) GetByID(_ context.Context, id int64) (*model.Backup, error) {
	for _, b := range f.backups {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, nil
}

func TestBackupStatus(t *testing.T) {
	h := NewBackupHandler(&fakeRunner{status: backup.Status{State: backup.StateIdle}}, &fakeLister{}, nil)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/backups/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got backup.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, backup.StateIdle, got.State)
}

func TestBackupList(t *testing.T) {
	lister := &fakeLister{}
	h := NewBackupHandler(&fakeRunner{}, lister, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/backups", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, defaultBackupListLimit, lister.limit)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/backups?limit=5000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxBackupListLimit, lister.limit)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/backups?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lister.err = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/backups", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBackupRun(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"completed", nil, http.StatusCreated},
		{"disabled", backup.ErrDisabled, http.StatusServiceUnavailable},
		{"in progress", backup.ErrInProgress, http.StatusConflict},
		{"failed", errors.New("bucket on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{id: 7, err: tt.err}
			lister := &fakeLister{backups: []model.Backup{{ID: 7, Filename: "todo-x.db.enc", Status: model.BackupStatusCompleted}}}
			h := NewBackupHandler(runner, lister, nil)

			rec := httptest.NewRecorder()
			h.Run(rec, httptest.NewRequest(http.MethodPost, "/backups/run", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, 1, runner.calls)
			if tt.err == nil {
				var got model.Backup
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "todo-x.db.enc", got.Filename)
			}
		})
	}
}
