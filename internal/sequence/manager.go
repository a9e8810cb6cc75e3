// Package sequence implements the Sequence Manager (spec §4.2): per-key
// in-process chunk caches over a storage.Backend, prefetch on low
// watermark, and exhaustion handling. Increment and Formatted both draw
// through here; Formatted supplies a derived key so its counter lives in
// its own namespace.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/idbuilder/worker/internal/storage"
	"github.com/idbuilder/worker/internal/telemetry"
)

// Config tunes chunking behavior. Zero-value Config gets sane defaults via
// withDefaults.
type Config struct {
	// DefaultBatchSize is how many units a single reservation requests when
	// the current chunk is drained (and what a prefetch reserves).
	DefaultBatchSize int64
	// PrefetchThreshold triggers a prefetch once the fraction of the chunk
	// remaining drops below it (default 0.2, spec §4.2).
	PrefetchThreshold float64
	// MaxConcurrentPrefetch is accepted and defaulted but not enforced:
	// prefetches are limited to one in flight per key, with no bound across
	// keys.
	MaxConcurrentPrefetch int
}

func (c Config) withDefaults() Config {
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 1000
	}
	if c.PrefetchThreshold <= 0 {
		c.PrefetchThreshold = 0.2
	}
	if c.MaxConcurrentPrefetch <= 0 {
		c.MaxConcurrentPrefetch = 8
	}
	return c
}

// Manager is the per-key chunk cache sitting in front of a storage.Backend.
type Manager struct {
	backend storage.Backend
	cfg     Config

	mu   sync.Mutex // guards keys map structure, not chunk contents
	keys map[string]*keyState
}

// keyState is the small owned coordination record for one key (spec §9):
// allocated on first use, mutual exclusion held only long enough to
// inspect/update chunk state.
type keyState struct {
	mu          sync.Mutex
	chunk       chunk
	nextChunk   *chunk // single-slot mailbox: the prefetched successor, if ready
	poisoned    bool
	prefetching bool
}

// New creates a Manager over backend.
func New(backend storage.Backend, cfg Config) *Manager {
	return &Manager{backend: backend, cfg: cfg.withDefaults(), keys: make(map[string]*keyState)}
}

func (m *Manager) stateFor(key string) *keyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, ok := m.keys[key]
	if !ok {
		ks = &keyState{}
		m.keys[key] = ks
	}
	return ks
}

// Draw serves n values spaced by delta for key, reserving more from the
// backend as needed. Within one Manager (one worker), returned values for a
// given key are strictly increasing across calls (spec §4.2 ordering
// guarantee).
func (m *Manager) Draw(ctx context.Context, key string, n int64, delta int64) ([]int64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sequence: n must be positive, got %d", n)
	}
	if delta <= 0 {
		return nil, fmt.Errorf("sequence: delta must be positive, got %d", delta)
	}

	ks := m.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.poisoned {
		return nil, storage.ErrExhausted
	}

	// A config change mid-flight (different delta) invalidates the cached
	// chunk; the old range is simply abandoned (gap, never duplicated).
	if !ks.chunk.empty() && ks.chunk.delta != delta {
		ks.chunk = chunk{}
		ks.nextChunk = nil
	}

	out := make([]int64, n)
	var filled int64

	for filled < n {
		if ks.chunk.available() == 0 {
			if ks.nextChunk != nil && ks.nextChunk.delta == delta {
				ks.chunk = *ks.nextChunk
				ks.nextChunk = nil
			} else {
				need := n - filled
				count := need
				if m.cfg.DefaultBatchSize > count {
					count = m.cfg.DefaultBatchSize
				}
				first, last, err := m.backend.ReserveRange(ctx, key, count, delta)
				if err != nil {
					if errors.Is(err, storage.ErrExhausted) {
						ks.poisoned = true
						telemetry.SequenceExhaustedTotal.WithLabelValues(key).Inc()
					}
					return nil, err
				}
				ks.chunk = chunk{next: first, end: last + delta, delta: delta}
			}
		}
		filled += ks.chunk.take(out[filled:], n-filled)
	}

	m.maybePrefetch(key, ks, delta)
	return out, nil
}

// maybePrefetch schedules an asynchronous reservation once the remaining
// fraction of the chunk drops below the configured threshold. At most one
// prefetch is ever in flight per key (single-slot mailbox, spec §9); it
// must be called with ks.mu held, but does its actual backend work off that
// lock so foreground draws are never blocked by it.
func (m *Manager) maybePrefetch(key string, ks *keyState, delta int64) {
	if ks.prefetching || ks.nextChunk != nil {
		return
	}
	capacity := float64(m.cfg.DefaultBatchSize)
	if capacity <= 0 {
		return
	}
	remaining := float64(ks.chunk.available())
	if remaining/capacity >= m.cfg.PrefetchThreshold {
		return
	}

	ks.prefetching = true
	telemetry.ChunkPrefetchTotal.WithLabelValues(key).Inc()

	go func() {
		// Cancellation of the prefetch is harmless: it only burns counter
		// space (spec §9), so a background context independent of the
		// triggering request is correct here.
		first, last, err := m.backend.ReserveRange(context.Background(), key, m.cfg.DefaultBatchSize, delta)

		ks.mu.Lock()
		defer ks.mu.Unlock()
		ks.prefetching = false
		if err != nil {
			return // next Draw's synchronous path will retry and surface the error
		}
		ks.nextChunk = &chunk{next: first, end: last + delta, delta: delta}
	}()
}

// DrawPessimistic serves n values for key using a randomized per-value
// delta in [1, maxDelta], reserving the full pessimistic advance
// n*maxDelta up front so uniqueness holds regardless of which random
// deltas are chosen (spec §4.2's rand_delta handling, §9 Open Question a).
// It bypasses the chunk cache entirely: randomized-delta requests reserve
// fresh per call.
func (m *Manager) DrawPessimistic(ctx context.Context, key string, n int64, maxDelta int64) ([]int64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sequence: n must be positive, got %d", n)
	}
	if maxDelta <= 0 {
		return nil, fmt.Errorf("sequence: maxDelta must be positive, got %d", maxDelta)
	}

	first, last, err := m.backend.ReserveRange(ctx, key, n, maxDelta)
	if err != nil {
		if errors.Is(err, storage.ErrExhausted) {
			telemetry.SequenceExhaustedTotal.WithLabelValues(key).Inc()
		}
		return nil, err
	}

	out := make([]int64, n)
	cur := first
	for i := int64(0); i < n; i++ {
		out[i] = cur
		remainingSlots := n - i - 1
		maxStep := maxDelta
		if headroom := last - cur - remainingSlots; headroom < maxStep {
			// Leave at least 1 per remaining slot so later values stay
			// within the reserved, disjoint range.
			maxStep = headroom
		}
		if maxStep < 1 {
			maxStep = 1
		}
		step := int64(1)
		if maxStep > 1 {
			step = 1 + rand.Int64N(maxStep)
		}
		cur += step
	}
	return out, nil
}

// InvalidateIfStale drops the cached chunk for key if its values fall below
// floor. This is for the ordinary lower-the-floor case (e.g. an admin
// raising a cap after exhaustion) — a reset_sequence CAS instead lowers the
// counter, which would leave an already-cached chunk entirely above floor,
// so callers reacting to a reset must use Invalidate, not this method.
func (m *Manager) InvalidateIfStale(key string, floor int64) {
	ks := m.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if !ks.chunk.empty() && ks.chunk.next < floor {
		ks.chunk = chunk{}
		ks.nextChunk = nil
	}
}

// Invalidate unconditionally drops the cached chunk and any in-flight
// prefetch for key — used after a reset_sequence CAS (spec §4.2), whether
// this worker performed the reset or observed ErrAlreadyReset from another
// worker winning the race, so neither keeps serving values cached from
// before the scope transition.
func (m *Manager) Invalidate(key string) {
	ks := m.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.chunk = chunk{}
	ks.nextChunk = nil
}

// Unpoison clears the exhausted flag for key after an admin raises its cap.
func (m *Manager) Unpoison(key string) {
	ks := m.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.poisoned = false
	ks.chunk = chunk{}
	ks.nextChunk = nil
}
