package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/todo/internal/config"
	"github.com/dukerupert/todo/internal/database"
	"github.com/dukerupert/todo/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "todo",
	Short: "Event tracker with deadline-driven statuses",
	Long: `todo serves a small REST API for tracking events: titled items with an
optional deadline and a priority. Statuses follow the deadline on their own:
an event past its deadline becomes Overdue, and completing it late marks it
Late.

Titles may carry markers that are parsed at creation:

  !1 .. !4              priority Critical, High, Medium, Low
  !before 31-12-2026    deadline (dd-mm-yyyy or dd.mm.yyyy)

Settings come from defaults, an optional config file, TODO_* environment
variables and flags, in that order.`,
	SilenceUsage: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves the configuration for cmd and installs the default
// logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.FromFlags(cmd.Flags(), os.Getenv)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}

func openDB(cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	if v, err := database.Version(db); err == nil {
		logger.Debug("database ready", "path", cfg.DBPath, "schema_version", v)
	}
	return db, nil
}
