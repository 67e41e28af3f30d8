package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/todo/internal/scheduler"
	"github.com/dukerupert/todo/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, change feed and scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", "config", cfg.Redacted())

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := server.New(cfg, db, logger)
	if err != nil {
		return err
	}
	defer srv.Hub().Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch up on statuses that went stale while the server was down.
	if n, err := srv.Events().Sweep(ctx); err != nil {
		logger.Warn("startup sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("startup sweep", "changed", n)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sched := scheduler.New(loc, logger.With("component", "scheduler"))
	if cfg.SweepSchedule != "" {
		if err := sched.Add("sweep", cfg.SweepSchedule, scheduler.SweepJob(srv.Events(), logger.With("job", "sweep"))); err != nil {
			return err
		}
	}
	backupMgr := srv.BackupManager()
	if cfg.Backup.Schedule != "" && backupMgr.Enabled() {
		if err := sched.Add("backup", cfg.Backup.Schedule, scheduler.BackupJob(backupMgr, cfg.Backup.RetentionDays, logger.With("job", "backup"))); err != nil {
			return err
		}
	} else if !backupMgr.Enabled() {
		logger.Info("backups disabled: no passphrase configured")
	}
	sched.Start()
	for _, e := range sched.Entries() {
		logger.Info("job scheduled", "job", e.Name, "spec", e.Spec, "next", e.Next.Format(time.RFC3339))
	}

	if rl := srv.RateLimiter(); rl != nil {
		go rl.Run(ctx, time.Minute)
	}

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("todo running", "addr", fmt.Sprintf("http://localhost:%d", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	return serveErr
}
