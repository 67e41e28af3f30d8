package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	wsconn "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/todo/internal/config"
	"github.com/dukerupert/todo/internal/database"
	"github.com/dukerupert/todo/internal/model"
	ws "github.com/dukerupert/todo/internal/websocket"
)

func setupServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Backup.Dir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)
	srv, err := New(cfg, db, logger, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func send(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Default()
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err = New(cfg, db, slog.Default())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, ts := setupServer(t, nil)

	resp := send(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestEventRoutes(t *testing.T) {
	_, ts := setupServer(t, nil)

	resp := send(t, http.MethodPost, ts.URL+"/events/create", `{"title":"Order groceries !2"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, model.PriorityHigh, created.Priority)

	id := strconv.FormatInt(created.ID, 10)

	resp = send(t, http.MethodPut, ts.URL+"/events/markAsComplete/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, http.MethodGet, ts.URL+"/events/getById/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, model.StatusCompleted, got.Status)

	// The literal "all" segment wins over the {id} wildcard.
	resp = send(t, http.MethodDelete, ts.URL+"/events/delete/all", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = send(t, http.MethodGet, ts.URL+"/events/getById/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = send(t, http.MethodGet, ts.URL+"/events/create", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	_, ts := setupServer(t, func(c *config.Config) { c.RateLimit = 2 })

	for i := 0; i < 2; i++ {
		resp := send(t, http.MethodPost, ts.URL+"/events/create", `{"title":"Something to do"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := send(t, http.MethodPost, ts.URL+"/events/create", `{"title":"Something to do"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Reads are never limited.
	resp = send(t, http.MethodGet, ts.URL+"/events/get", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimitDisabled(t *testing.T) {
	srv, ts := setupServer(t, func(c *config.Config) { c.RateLimit = 0 })
	assert.Nil(t, srv.RateLimiter())

	for i := 0; i < 5; i++ {
		resp := send(t, http.MethodPost, ts.URL+"/events/create", `{"title":"Something to do"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
}

func TestBackupRoutes(t *testing.T) {
	_, ts := setupServer(t, nil)

	resp := send(t, http.MethodPost, ts.URL+"/backups/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, ts = setupServer(t, func(c *config.Config) { c.Backup.Passphrase = "hunter22" })

	resp = send(t, http.MethodPost, ts.URL+"/backups/run", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var record model.Backup
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	assert.Equal(t, model.BackupStatusCompleted, record.Status)

	resp = send(t, http.MethodGet, ts.URL+"/backups", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Backup
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	resp = send(t, http.MethodGet, ts.URL+"/backups/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChangeFeed(t *testing.T) {
	srv, ts := setupServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := wsconn.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	read := func() ws.Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	resp := send(t, http.MethodPost, ts.URL+"/events/create", `{"title":"Overdue already","deadline":"2026-02-01"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := read()
	assert.Equal(t, "event_created", msg.Type)
	assert.Equal(t, "2026-02-01", msg.Extra["deadline"])

	// Listing reconciles the row and reports the persisted transition.
	resp = send(t, http.MethodGet, ts.URL+"/events/get", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg = read()
	assert.Equal(t, "event_status_changed", msg.Type)
	assert.Equal(t, string(model.StatusActive), msg.Extra["from"])
	assert.Equal(t, string(model.StatusOverdue), msg.Extra["to"])
}
