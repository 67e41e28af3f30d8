package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/todo/internal/model"
	"github.com/dukerupert/todo/internal/store"
)

var (
	ErrDisabled   = errors.New("backup disabled: no passphrase configured")
	ErrInProgress = errors.New("backup already in progress")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func (c S3Config) enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	// Dir receives every encrypted snapshot.
	Dir        string
	Passphrase string
	S3         S3Config
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager snapshots the database, encrypts the snapshot into the backup
// directory and, when configured, uploads it to S3-compatible storage.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback

	db     *sql.DB
	store  *store.BackupStore
	client s3Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a new backup manager. It starts disabled when no
// passphrase is configured.
func NewManager(cfg Config, db *sql.DB, bs *store.BackupStore, callback StatusCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		db:       db,
		store:    bs,
		callback: callback,
		logger:   logger,
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}

	if cfg.Passphrase != "" {
		m.status.State = StateIdle
	}
	if cfg.S3.enabled() {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups can run.
func (m *Manager) Enabled() bool {
	return m.Status().State != StateDisabled
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// begin moves the manager into the running state, failing when it is
// disabled or another run holds it.
func (m *Manager) begin() error {
	m.mu.Lock()
	switch {
	case m.status.State == StateDisabled:
		m.mu.Unlock()
		return ErrDisabled
	case m.status.InProgress:
		m.mu.Unlock()
		return ErrInProgress
	}
	m.status = Status{State: StateRunning, InProgress: true, LastBackup: m.status.LastBackup}
	s := m.status
	m.mu.Unlock()

	if m.callback != nil {
		m.callback(s)
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, id int64, err error) {
	if id != 0 {
		if uerr := m.store.UpdateStatus(ctx, id, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("record backup failure", "id", id, "error", uerr)
		}
	}
	last := m.Status().LastBackup
	m.setStatus(Status{State: StateError, Error: err.Error(), LastBackup: last})
}

// RunNow takes one backup and returns the id of its record.
func (m *Manager) RunNow(ctx context.Context) (int64, error) {
	if err := m.begin(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	cfg := m.cfg
	client := m.client
	m.mu.RUnlock()

	timestamp := m.now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("todo-%s.db.enc", timestamp)
	var objectKey string
	if client != nil {
		objectKey = path.Join(cfg.S3.Prefix, filename)
	}

	record, err := m.store.Create(ctx, filename, objectKey)
	if err != nil {
		m.fail(ctx, 0, err)
		return 0, fmt.Errorf("create backup record: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "todo-backup-")
	if err != nil {
		m.fail(ctx, record.ID, err)
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		m.fail(ctx, record.ID, err)
		return 0, fmt.Errorf("snapshot database: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		m.fail(ctx, record.ID, err)
		return 0, err
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		m.fail(ctx, record.ID, err)
		return 0, fmt.Errorf("create backup dir: %w", err)
	}
	encPath := filepath.Join(cfg.Dir, filename)
	if err := EncryptFile(snapshot, encPath, cfg.Passphrase, salt); err != nil {
		m.fail(ctx, record.ID, err)
		return 0, fmt.Errorf("encrypt: %w", err)
	}

	stat, err := os.Stat(encPath)
	if err != nil {
		m.fail(ctx, record.ID, err)
		return 0, fmt.Errorf("stat encrypted file: %w", err)
	}

	if client != nil {
		if err := m.store.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
			m.logger.Warn("mark backup uploading", "id", record.ID, "error", err)
		}
		if err := upload(ctx, client, cfg.S3.Bucket, objectKey, encPath, stat.Size()); err != nil {
			m.fail(ctx, record.ID, err)
			return 0, fmt.Errorf("upload to s3: %w", err)
		}
	}

	if err := m.store.UpdateCompleted(ctx, record.ID, stat.Size()); err != nil {
		m.fail(ctx, record.ID, err)
		return 0, err
	}

	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup completed", "id", record.ID, "file", encPath, "bytes", stat.Size(), "uploaded", client != nil)

	return record.ID, nil
}

func upload(ctx context.Context, client s3Client, bucket, key, file string, size int64) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open encrypted file: %w", err)
	}
	defer f.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	return err
}

// Cleanup deletes backups older than the retention period from the record
// table, the backup directory and the bucket. A non-positive retention keeps
// everything.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	m.mu.RLock()
	cfg := m.cfg
	client := m.client
	m.mu.RUnlock()

	before := m.now().UTC().AddDate(0, 0, -retentionDays)
	old, err := m.store.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete old backups: %w", err)
	}

	for _, b := range old {
		if err := os.Remove(filepath.Join(cfg.Dir, b.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("remove backup file", "file", b.Filename, "error", err)
		}
		if !b.Uploaded() || client == nil {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.S3.Bucket),
			Key:    aws.String(b.ObjectKey),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", b.ObjectKey, "error", err)
		}
	}

	if len(old) > 0 {
		m.logger.Info("old backups removed", "count", len(old), "before", before.Format(time.RFC3339))
	}
	return len(old), nil
}

// VerifySnapshot runs SQLite's integrity check against a decrypted snapshot.
func VerifySnapshot(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}
