package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Backuper interface {
	Enabled() bool
	RunNow(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context, retentionDays int) (int, error)
}

// SweepJob reconciles every stored event.
func SweepJob(s Sweeper, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		n, err := s.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep finished", "changed", n)
		return nil
	}
}

// BackupJob takes a backup and then prunes those past retentionDays. Pruning
// still runs when the backup fails.
func BackupJob(b Backuper, retentionDays int, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		if !b.Enabled() {
			logger.Debug("backup skipped: disabled")
			return nil
		}

		var errs []error
		if id, err := b.RunNow(ctx); err != nil {
			errs = append(errs, fmt.Errorf("backup: %w", err))
		} else {
			logger.Info("scheduled backup finished", "id", id)
		}
		if _, err := b.Cleanup(ctx, retentionDays); err != nil {
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		}
		return errors.Join(errs...)
	}
}
