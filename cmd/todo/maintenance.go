package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/todo/internal/backup"
	"github.com/dukerupert/todo/internal/event"
	"github.com/dukerupert/todo/internal/server"
	"github.com/dukerupert/todo/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile every stored event status once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		es := store.NewEventStore(db)
		svc := event.NewService(es, event.Options{Location: loc}, logger.With("component", "event"))
		es.SetToday(svc.Today)

		n, err := svc.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) updated\n", n)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take an encrypted backup now and prune old ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		bs := store.NewBackupStore(db)
		mgr := backup.NewManager(server.BackupConfig(cfg), db, bs, nil, logger.With("component", "backup"))

		ctx := cmd.Context()
		id, err := mgr.RunNow(ctx)
		if errors.Is(err, backup.ErrDisabled) {
			return fmt.Errorf("%w (set TODO_BACKUP_PASSPHRASE)", err)
		}
		if err != nil {
			return err
		}
		record, err := bs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("backup %d: record missing", id)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup %d written: %s (%d bytes)\n", record.ID, record.Filename, record.SizeBytes)

		removed, err := mgr.Cleanup(ctx, cfg.Backup.RetentionDays)
		if err != nil {
			return err
		}
		if removed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d old backup(s) removed\n", removed)
		}
		return nil
	},
}

var decryptPassphrase string

var decryptCmd = &cobra.Command{
	Use:   "decrypt <backup.db.enc> <restored.db>",
	Short: "Decrypt a backup into a plain SQLite file and check its integrity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		passphrase := decryptPassphrase
		if passphrase == "" {
			passphrase = cfg.Backup.Passphrase
		}
		if passphrase == "" {
			return errors.New("no passphrase: pass --passphrase or set TODO_BACKUP_PASSPHRASE")
		}

		if err := backup.DecryptFile(args[0], args[1], passphrase); err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := backup.VerifySnapshot(ctx, args[1]); err != nil {
			os.Remove(args[1])
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[1])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Redacted()); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	decryptCmd.Flags().StringVar(&decryptPassphrase, "passphrase", "", "backup passphrase (defaults to the configured one)")
}
