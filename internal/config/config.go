// Package config loads service configuration. Later sources win:
// defaults, then a YAML or JSONC file, then TODO_* environment variables,
// then command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "TODO_"

var (
	ErrConfigFileRead   = errors.New("cannot read config file")
	ErrConfigInvalid    = errors.New("invalid config")
	ErrUnknownExtension = errors.New("unsupported config file extension")
)

type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Prefix    string `yaml:"prefix" json:"prefix"`
}

type BackupConfig struct {
	// Dir receives encrypted snapshots.
	Dir string `yaml:"dir" json:"dir"`
	// Passphrase enables backups. Empty disables them.
	Passphrase string `yaml:"passphrase" json:"passphrase"`
	// Schedule is a cron expression; empty means manual only.
	Schedule      string   `yaml:"schedule" json:"schedule"`
	RetentionDays int      `yaml:"retention_days" json:"retention_days"`
	S3            S3Config `yaml:"s3" json:"s3"`
}

type Config struct {
	Port      int    `yaml:"port" json:"port"`
	DBPath    string `yaml:"db_path" json:"db_path"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	// Timezone decides when a calendar day starts. "Local" or empty uses the
	// host zone.
	Timezone string `yaml:"timezone" json:"timezone"`
	// RateLimit is the number of write requests per minute allowed from one
	// client IP. Zero disables limiting.
	RateLimit      int      `yaml:"rate_limit" json:"rate_limit"`
	SweepSchedule  string   `yaml:"sweep_schedule" json:"sweep_schedule"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	Backup BackupConfig `yaml:"backup" json:"backup"`
}

func Default() Config {
	return Config{
		Port:          8080,
		DBPath:        "todo.db",
		LogLevel:      "info",
		LogFormat:     "text",
		Timezone:      "Local",
		RateLimit:     120,
		SweepSchedule: "5 0 * * *",
		Backup: BackupConfig{
			Dir:           "backups",
			Schedule:      "30 3 * * *",
			RetentionDays: 30,
			S3:            S3Config{Region: "auto"},
		},
	}
}

// Load applies the file at path (skipped when path is empty) and then the
// environment returned by getenv over the defaults.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
		}
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("%w %s: invalid JSONC: %w", ErrConfigInvalid, path, err)
		}
		if err := json.Unmarshal(standardized, cfg); err != nil {
			return fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownExtension, path)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"DB_PATH":           &cfg.DBPath,
		"LOG_LEVEL":         &cfg.LogLevel,
		"LOG_FORMAT":        &cfg.LogFormat,
		"TIMEZONE":          &cfg.Timezone,
		"SWEEP_SCHEDULE":    &cfg.SweepSchedule,
		"BACKUP_DIR":        &cfg.Backup.Dir,
		"BACKUP_PASSPHRASE": &cfg.Backup.Passphrase,
		"BACKUP_SCHEDULE":   &cfg.Backup.Schedule,
		"S3_ENDPOINT":       &cfg.Backup.S3.Endpoint,
		"S3_BUCKET":         &cfg.Backup.S3.Bucket,
		"S3_REGION":         &cfg.Backup.S3.Region,
		"S3_ACCESS_KEY":     &cfg.Backup.S3.AccessKey,
		"S3_SECRET_KEY":     &cfg.Backup.S3.SecretKey,
		"S3_PREFIX":         &cfg.Backup.S3.Prefix,
	}
	for name, dst := range strs {
		if v, ok := lookup(getenv, name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                  &cfg.Port,
		"RATE_LIMIT":            &cfg.RateLimit,
		"BACKUP_RETENTION_DAYS": &cfg.Backup.RetentionDays,
	}
	for name, dst := range ints {
		v, ok := lookup(getenv, name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrConfigInvalid, EnvPrefix, name, v)
		}
		*dst = n
	}

	if v, ok := lookup(getenv, "ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitList(v)
	}
	return nil
}

func lookup(getenv func(string) string, name string) (string, bool) {
	v := strings.TrimSpace(getenv(EnvPrefix + name))
	return v, v != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RegisterFlags adds the overridable settings to fs. Flag defaults are
// informational; only flags the user sets are applied.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "config file (.yaml, .yml, .json or .jsonc)")
	fs.IntP("port", "p", d.Port, "HTTP listen port")
	fs.String("db", d.DBPath, "SQLite database path")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "log format: text or json")
	fs.String("timezone", d.Timezone, "IANA time zone that decides when a day starts")
	fs.Int("rate-limit", d.RateLimit, "write requests per minute per client IP, 0 disables")
	fs.String("backup-dir", d.Backup.Dir, "directory for encrypted backups")
}

// FromFlags loads the file named by --config (or TODO_CONFIG), the
// environment, and every flag set on fs, then validates the result.
func FromFlags(fs *pflag.FlagSet, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	path, _ := fs.GetString("config")
	if path == "" {
		path, _ = lookup(getenv, "CONFIG")
	}

	cfg, err := Load(path, getenv)
	if err != nil {
		return Config{}, err
	}

	var flagErr error
	fs.Visit(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		switch f.Name {
		case "port":
			cfg.Port, flagErr = fs.GetInt("port")
		case "db":
			cfg.DBPath = f.Value.String()
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "log-format":
			cfg.LogFormat = f.Value.String()
		case "timezone":
			cfg.Timezone = f.Value.String()
		case "rate-limit":
			cfg.RateLimit, flagErr = fs.GetInt("rate-limit")
		case "backup-dir":
			cfg.Backup.Dir = f.Value.String()
		}
	})
	if flagErr != nil {
		return Config{}, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.Backup.RetentionDays < 0 {
		errs = append(errs, errors.New("backup.retention_days must not be negative"))
	}
	if c.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("sweep_schedule: %w", err))
		}
	}
	if c.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("backup.schedule: %w", err))
		}
	}
	if c.Backup.Passphrase != "" && c.Backup.Dir == "" {
		errs = append(errs, errors.New("backup.dir is required when backups are enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Backup.Passphrase != "" {
		c.Backup.Passphrase = "***"
	}
	if c.Backup.S3.SecretKey != "" {
		c.Backup.S3.SecretKey = "***"
	}
	return c
}
