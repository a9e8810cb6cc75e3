package schema

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/idbuilder/worker/internal/storage"
)

// fakeBackend is a minimal storage.Backend whose lock/version behavior is
// controllable per test.
type fakeBackend struct {
	mu            sync.Mutex
	locked        bool
	version       int32
	acquireErr    error
	initErr       error
	initCalls     int32
	acquireCalls  int32
	blockAcquire  bool // when true, TryAcquireLock always returns false
}

func (f *fakeBackend) TryAcquireLock(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	atomic.AddInt32(&f.acquireCalls, 1)
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.blockAcquire {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return false, nil
	}
	f.locked = true
	return true, nil
}

func (f *fakeBackend) ReleaseLock(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
	return nil
}

func (f *fakeBackend) InitSchema(context.Context) error {
	atomic.AddInt32(&f.initCalls, 1)
	if f.initErr != nil {
		return f.initErr
	}
	atomic.StoreInt32(&f.version, CurrentVersion)
	return nil
}

func (f *fakeBackend) SchemaVersion(context.Context) (int, error) {
	return int(atomic.LoadInt32(&f.version)), nil
}

func (f *fakeBackend) ReserveRange(context.Context, string, int64, int64) (int64, int64, error) {
	return 0, 0, storage.ErrNotFound
}
func (f *fakeBackend) GetSequence(context.Context, string) (storage.SequenceState, error) {
	return storage.SequenceState{}, storage.ErrNotFound
}
func (f *fakeBackend) ResetSequence(context.Context, string, int64, string) error { return nil }
func (f *fakeBackend) GetConfig(context.Context, string) (storage.ConfigRecord, error) {
	return storage.ConfigRecord{}, storage.ErrNotFound
}
func (f *fakeBackend) PutConfig(context.Context, storage.ConfigRecord) error { return nil }
func (f *fakeBackend) ListConfigs(context.Context, string, int) (storage.ConfigPage, error) {
	return storage.ConfigPage{}, nil
}
func (f *fakeBackend) PutToken(context.Context, string, string) error { return nil }
func (f *fakeBackend) GetToken(context.Context, string) (string, error) {
	return "", storage.ErrNotFound
}
func (f *fakeBackend) PutObject(context.Context, string, string, []byte) error { return nil }
func (f *fakeBackend) GetObject(context.Context, string, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeBackend) HealthCheck(context.Context) error { return nil }
func (f *fakeBackend) Close() error                      { return nil }

var _ storage.Backend = (*fakeBackend)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunInitializesWhenLockAcquired(t *testing.T) {
	backend := &fakeBackend{}
	c := New(backend, "owner-1", discardLogger())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&backend.initCalls) != 1 {
		t.Errorf("expected InitSchema called once, got %d", backend.initCalls)
	}
	if backend.locked {
		t.Error("expected lock released after init")
	}
}

func TestRunSkipsInitWhenAlreadyAtVersion(t *testing.T) {
	backend := &fakeBackend{version: CurrentVersion}
	c := New(backend, "owner-1", discardLogger())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&backend.initCalls) != 0 {
		t.Errorf("expected InitSchema skipped, got %d calls", backend.initCalls)
	}
}

func TestRunFollowerPollsUntilVersionReady(t *testing.T) {
	backend := &fakeBackend{locked: true} // simulate another worker holding the lock
	c := New(backend, "follower-1", discardLogger())
	c.pollStep = 5 * time.Millisecond
	c.deadline = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&backend.version, CurrentVersion)
		backend.mu.Lock()
		backend.locked = false
		backend.mu.Unlock()
	}()

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunFollowerDeadlineExceeded(t *testing.T) {
	backend := &fakeBackend{blockAcquire: true} // initializer never succeeds, version never advances
	c := New(backend, "follower-1", discardLogger())
	c.pollStep = 2 * time.Millisecond
	c.deadline = 10 * time.Millisecond

	if err := c.Run(context.Background()); err == nil {
		t.Error("expected deadline-exceeded error")
	}
}
