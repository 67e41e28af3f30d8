package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/todo/internal/backup"
	"github.com/dukerupert/todo/internal/config"
	"github.com/dukerupert/todo/internal/event"
	"github.com/dukerupert/todo/internal/handler"
	"github.com/dukerupert/todo/internal/ics"
	"github.com/dukerupert/todo/internal/middleware"
	"github.com/dukerupert/todo/internal/store"
	ws "github.com/dukerupert/todo/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	origins       []string
	events        *event.Service
	eventH        *handler.EventHandler
	backupH       *handler.BackupHandler
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	logger        *slog.Logger
}

// Option adjusts a Server before it is returned by New.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the wall clock used to decide "today".
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(cfg config.Config, db *sql.DB, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	hub := ws.NewHub(logger.With("component", "websocket"))

	eventStore := store.NewEventStore(db)
	events := event.NewService(eventStore, event.Options{
		Location:    loc,
		Now:         o.now,
		OnReconcile: hub.StatusChanged,
	}, logger.With("component", "event"))
	eventStore.SetToday(events.Today)

	backupStore := store.NewBackupStore(db)
	backupMgr := backup.NewManager(BackupConfig(cfg), db, backupStore, func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: ws.EntityBackup,
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	}, logger.With("component", "backup"))

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	}

	feed := ics.Options{}
	return &Server{
		db:            db,
		hub:           hub,
		origins:       cfg.AllowedOrigins,
		events:        events,
		eventH:        handler.NewEventHandler(events, hub, feed, logger.With("component", "event_handler")),
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup_handler")),
		rateLimiter:   limiter,
		backupManager: backupMgr,
		logger:        logger,
	}, nil
}

// BackupConfig maps the backup section of cfg onto the backup manager.
func BackupConfig(cfg config.Config) backup.Config {
	return backup.Config{
		Dir:        cfg.Backup.Dir,
		Passphrase: cfg.Backup.Passphrase,
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.S3.Endpoint,
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
			Prefix:    cfg.Backup.S3.Prefix,
		},
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Events returns the event service for scheduled sweeps.
func (s *Server) Events() *event.Service {
	return s.events
}

// RateLimiter returns the rate limiter for cleanup tasks. It is nil when
// limiting is disabled.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws", ws.Handler(s.hub, s.origins, s.logger.With("component", "websocket")))

	// Events
	mux.HandleFunc("GET /events/get", s.eventH.List)
	mux.HandleFunc("GET /events/getById/{id}", s.eventH.Get)
	mux.HandleFunc("GET /events/calendar.ics", s.eventH.Calendar)
	mux.HandleFunc("POST /events/create", s.rateLimitedHandler(s.eventH.Create))
	mux.HandleFunc("PUT /events/edit/{id}", s.rateLimitedHandler(s.eventH.Edit))
	mux.HandleFunc("DELETE /events/delete/all", s.rateLimitedHandler(s.eventH.DeleteAll))
	mux.HandleFunc("DELETE /events/delete/{id}", s.rateLimitedHandler(s.eventH.Delete))
	mux.HandleFunc("PUT /events/markAsComplete/{id}", s.rateLimitedHandler(s.eventH.MarkComplete))
	mux.HandleFunc("PUT /events/markAsUnComplete/{id}", s.rateLimitedHandler(s.eventH.MarkIncomplete))

	// Backups
	mux.HandleFunc("GET /backups", s.backupH.List)
	mux.HandleFunc("GET /backups/status", s.backupH.Status)
	mux.HandleFunc("POST /backups/run", s.rateLimitedHandler(s.backupH.Run))

	return middleware.Chain(mux,
		middleware.Recoverer(s.logger.With("component", "http")),
		middleware.RequestLogger(s.logger.With("component", "http")),
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	if s.rateLimiter == nil {
		return h
	}
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	return rl(h).ServeHTTP
}
