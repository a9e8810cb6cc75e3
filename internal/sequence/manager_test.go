package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idbuilder/worker/internal/storage"
)

// fakeBackend is a minimal in-memory storage.Backend for exercising the
// Sequence Manager's chunk/prefetch logic in isolation.
type fakeBackend struct {
	mu       sync.Mutex
	counters map[string]int64
	maxValue int64 // 0 means unbounded
	reserves int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{counters: make(map[string]int64)}
}

func (f *fakeBackend) ReserveRange(_ context.Context, key string, count, delta int64) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++

	advance := count * delta
	newValue := f.counters[key] + advance
	if f.maxValue > 0 && newValue > f.maxValue {
		return 0, 0, storage.ErrExhausted
	}
	first := f.counters[key] + delta
	f.counters[key] = newValue
	return first, newValue, nil
}

func (f *fakeBackend) GetSequence(_ context.Context, key string) (storage.SequenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.counters[key]
	if !ok {
		return storage.SequenceState{}, storage.ErrNotFound
	}
	return storage.SequenceState{Key: key, CurrentValue: v}, nil
}

func (f *fakeBackend) ResetSequence(_ context.Context, key string, newValue int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key] = newValue
	return nil
}

func (f *fakeBackend) GetConfig(context.Context, string) (storage.ConfigRecord, error) { return storage.ConfigRecord{}, storage.ErrNotFound }
func (f *fakeBackend) PutConfig(context.Context, storage.ConfigRecord) error            { return nil }
func (f *fakeBackend) ListConfigs(context.Context, string, int) (storage.ConfigPage, error) {
	return storage.ConfigPage{}, nil
}
func (f *fakeBackend) PutToken(context.Context, string, string) error            { return nil }
func (f *fakeBackend) GetToken(context.Context, string) (string, error)         { return "", storage.ErrNotFound }
func (f *fakeBackend) PutObject(context.Context, string, string, []byte) error  { return nil }
func (f *fakeBackend) GetObject(context.Context, string, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeBackend) TryAcquireLock(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeBackend) ReleaseLock(context.Context, string, string) error { return nil }
func (f *fakeBackend) HealthCheck(context.Context) error                { return nil }
func (f *fakeBackend) InitSchema(context.Context) error                 { return nil }
func (f *fakeBackend) SchemaVersion(context.Context) (int, error)       { return 1, nil }
func (f *fakeBackend) Close() error                                     { return nil }

var _ storage.Backend = (*fakeBackend)(nil)

func TestDrawSingleKeySingleWorkerStrictlyIncreasing(t *testing.T) {
	backend := newFakeBackend()
	mgr := New(backend, Config{DefaultBatchSize: 10})

	var all []int64
	for i := 0; i < 5; i++ {
		ids, err := mgr.Draw(context.Background(), "orders", 3, 1)
		require.NoError(t, err)
		all = append(all, ids...)
	}

	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i], all[i-1])
	}
}

func TestDrawServesAcrossChunkBoundary(t *testing.T) {
	backend := newFakeBackend()
	mgr := New(backend, Config{DefaultBatchSize: 2})

	ids, err := mgr.Draw(context.Background(), "k", 5, 1)
	require.NoError(t, err)
	require.Len(t, ids, 5)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestDrawDeltaChangeInvalidatesChunk(t *testing.T) {
	backend := newFakeBackend()
	mgr := New(backend, Config{DefaultBatchSize: 10})

	first, err := mgr.Draw(context.Background(), "k", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, first)

	// Switching delta abandons the remainder of the delta=1 chunk; the
	// counter keeps advancing from wherever it was (gap allowed, spec §5).
	second, err := mgr.Draw(context.Background(), "k", 2, 5)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Greater(t, second[0], first[len(first)-1])
}

func TestDrawExhaustionPoisonsKey(t *testing.T) {
	backend := newFakeBackend()
	backend.maxValue = 3
	mgr := New(backend, Config{DefaultBatchSize: 10})

	_, err := mgr.Draw(context.Background(), "k", 10, 1)
	require.ErrorIs(t, err, storage.ErrExhausted)

	_, err = mgr.Draw(context.Background(), "k", 1, 1)
	require.ErrorIs(t, err, storage.ErrExhausted, "poisoned key must fail fast without retrying the backend")
}

func TestUnpoisonClearsExhaustedState(t *testing.T) {
	backend := newFakeBackend()
	backend.maxValue = 3
	mgr := New(backend, Config{DefaultBatchSize: 10})

	_, err := mgr.Draw(context.Background(), "k", 10, 1)
	require.ErrorIs(t, err, storage.ErrExhausted)

	backend.maxValue = 100
	mgr.Unpoison("k")

	ids, err := mgr.Draw(context.Background(), "k", 1, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestDrawPessimisticReservesMaxDeltaAndStaysDisjoint(t *testing.T) {
	backend := newFakeBackend()
	mgr := New(backend, Config{})

	ids, err := mgr.DrawPessimistic(context.Background(), "k", 5, 10)
	require.NoError(t, err)
	require.Len(t, ids, 5)

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
	// Pessimistic reservation must not exceed what n*maxDelta would reserve.
	assert.LessOrEqual(t, ids[len(ids)-1], int64(5*10))

	// A subsequent draw picks up after the full pessimistic reservation, not
	// after the last value actually used.
	state, err := backend.GetSequence(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(50), state.CurrentValue)
}

func TestInvalidateIfStaleDropsChunkBelowFloor(t *testing.T) {
	backend := newFakeBackend()
	mgr := New(backend, Config{DefaultBatchSize: 10})

	_, err := mgr.Draw(context.Background(), "k", 3, 1)
	require.NoError(t, err)

	mgr.InvalidateIfStale("k", 100)

	ks := mgr.stateFor("k")
	ks.mu.Lock()
	empty := ks.chunk.empty()
	ks.mu.Unlock()
	assert.True(t, empty, "chunk below floor must be dropped")
}

func TestMaybePrefetchFillsMailboxBeforeExhaustion(t *testing.T) {
	backend := newFakeBackend()
	mgr := New(backend, Config{DefaultBatchSize: 10, PrefetchThreshold: 0.5})

	_, err := mgr.Draw(context.Background(), "k", 6, 1) // drops below 50% remaining, triggers prefetch
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ks := mgr.stateFor("k")
		ks.mu.Lock()
		defer ks.mu.Unlock()
		return ks.nextChunk != nil
	}, time.Second, 5*time.Millisecond)
}
