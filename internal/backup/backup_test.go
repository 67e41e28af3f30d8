package backup

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/todo/internal/database"
	"github.com/dukerupert/todo/internal/model"
	"github.com/dukerupert/todo/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func setupManager(t *testing.T, cfg Config, cb StatusCallback) (*Manager, *sql.DB, *store.BackupStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	es := store.NewEventStore(db)
	if _, err := es.Save(context.Background(), &model.Event{Title: "Back me up", Status: model.StatusActive, Priority: model.PriorityLow}); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	bs := store.NewBackupStore(db)
	return NewManager(cfg, db, bs, cb, nil), db, bs
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without a passphrase -> disabled
	m := NewManager(Config{}, nil, nil, nil, nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if m.Enabled() {
		t.Error("expected manager to be disabled")
	}

	// With a passphrase -> idle, even without S3
	m2 := NewManager(Config{Passphrase: "secret"}, nil, nil, nil, nil)
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
	if m2.client != nil {
		t.Error("expected no s3 client without bucket credentials")
	}

	m3 := NewManager(Config{
		Passphrase: "secret",
		S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
	}, nil, nil, nil, nil)
	if m3.client == nil {
		t.Error("expected s3 client with bucket credentials")
	}
}

func TestManagerStatusCallback(t *testing.T) {
	var received []Status
	var mu sync.Mutex
	cb := func(s Status) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}

	m := NewManager(Config{Passphrase: "secret"}, nil, nil, cb, nil)

	m.setStatus(Status{State: StateRunning, InProgress: true})
	m.setStatus(Status{State: StateIdle})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d callbacks, want 2", len(received))
	}
	if received[0].State != StateRunning {
		t.Errorf("first callback state = %q, want %q", received[0].State, StateRunning)
	}
	if received[1].State != StateIdle {
		t.Errorf("second callback state = %q, want %q", received[1].State, StateIdle)
	}
}

func TestRunNowDisabled(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, nil)

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want %v", err, ErrDisabled)
	}
}

func TestRunNowInProgress(t *testing.T) {
	m := NewManager(Config{Passphrase: "secret"}, nil, nil, nil, nil)
	m.setStatus(Status{State: StateRunning, InProgress: true})

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Errorf("err = %v, want %v", err, ErrInProgress)
	}
}

func TestRunNowLocalOnly(t *testing.T) {
	var states []State
	m, _, bs := setupManager(t, Config{Passphrase: "correct horse"}, func(s Status) {
		states = append(states, s.State)
	})
	ctx := context.Background()

	id, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	record, err := bs.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", record.Status, model.BackupStatusCompleted)
	}
	if record.ObjectKey != "" {
		t.Errorf("object_key = %q, want empty", record.ObjectKey)
	}
	if record.SizeBytes == 0 {
		t.Error("expected non-zero size")
	}

	encPath := filepath.Join(m.cfg.Dir, record.Filename)
	decPath := filepath.Join(t.TempDir(), "restored.db")
	if err := DecryptFile(encPath, decPath, "correct horse"); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if err := VerifySnapshot(ctx, decPath); err != nil {
		t.Fatalf("verify: %v", err)
	}

	restored, err := sql.Open("sqlite", decPath)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var title string
	if err := restored.QueryRow(`SELECT title FROM events`).Scan(&title); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if title != "Back me up" {
		t.Errorf("title = %q, want %q", title, "Back me up")
	}

	if len(states) != 2 || states[0] != StateRunning || states[1] != StateIdle {
		t.Errorf("states = %v, want [running idle]", states)
	}
	if m.Status().LastBackup == nil {
		t.Error("expected last backup time")
	}
}

func TestRunNowUploads(t *testing.T) {
	m, _, bs := setupManager(t, Config{
		Passphrase: "secret",
		S3:         S3Config{Bucket: "test", Prefix: "todo"},
	}, nil)
	mock := newMockS3()
	m.client = mock
	ctx := context.Background()

	id, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	record, _ := bs.GetByID(ctx, id)
	if record.ObjectKey != "todo/"+record.Filename {
		t.Errorf("object_key = %q, want %q", record.ObjectKey, "todo/"+record.Filename)
	}
	if !mock.has(record.ObjectKey) {
		t.Errorf("expected object %q to be uploaded", record.ObjectKey)
	}
	if record.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", record.Status, model.BackupStatusCompleted)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, _, bs := setupManager(t, Config{
		Passphrase: "secret",
		S3:         S3Config{Bucket: "test"},
	}, nil)
	mock := newMockS3()
	mock.putErr = errors.New("bucket on fire")
	m.client = mock
	ctx := context.Background()

	if _, err := m.RunNow(ctx); err == nil {
		t.Fatal("expected upload error")
	}

	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}
	list, _ := bs.List(ctx, 10)
	if len(list) != 1 {
		t.Fatalf("records = %d, want 1", len(list))
	}
	if list[0].Status != model.BackupStatusFailed {
		t.Errorf("status = %q, want %q", list[0].Status, model.BackupStatusFailed)
	}
	if list[0].ErrorMessage != "bucket on fire" {
		t.Errorf("error_message = %q, want %q", list[0].ErrorMessage, "bucket on fire")
	}

	// A failed run does not block the next one.
	mock.putErr = nil
	if _, err := m.RunNow(ctx); err != nil {
		t.Errorf("retry: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	m, _, bs := setupManager(t, Config{
		Passphrase: "secret",
		S3:         S3Config{Bucket: "test"},
	}, nil)
	mock := newMockS3()
	m.client = mock
	ctx := context.Background()

	id, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	record, _ := bs.GetByID(ctx, id)

	// Retention disabled keeps everything.
	if n, err := m.Cleanup(ctx, 0); err != nil || n != 0 {
		t.Fatalf("cleanup(0) = %d, %v; want 0, nil", n, err)
	}

	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err := m.Cleanup(ctx, 1)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(m.cfg.Dir, record.Filename)); !os.IsNotExist(err) {
		t.Errorf("expected local file to be removed, stat err = %v", err)
	}
	if mock.has(record.ObjectKey) {
		t.Error("expected s3 object to be removed")
	}
	if got, _ := bs.GetByID(ctx, id); got != nil {
		t.Error("expected record to be removed")
	}
}
