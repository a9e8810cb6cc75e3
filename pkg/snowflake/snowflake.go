// Package snowflake implements the Snowflake Coordinator (spec §4.5): it
// leases a worker_id per (key, client_fingerprint) pair from the shared
// store and hands back a bit-layout descriptor; clients do the actual
// timestamp/worker/sequence packing off-server.
package snowflake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/idbuilder/worker/internal/httpserver"
	"github.com/idbuilder/worker/internal/storage"
	"github.com/idbuilder/worker/pkg/idconfig"
)

const (
	leaseNamespace  = "snowflake_leases"
	defaultLeaseTTL = 60 * time.Second
	lockTTL         = 10 * time.Second
	maxLockAttempts = 5
)

// Descriptor is the bit-layout response returned to a client (spec §4.5).
type Descriptor struct {
	SkipSize     uint8 `json:"skip_size"`
	BaseTS       int64 `json:"base_ts"`
	TsSize       uint8 `json:"ts_size"`
	WorkerID     int64 `json:"worker_id"`
	WorkerIDSize uint8 `json:"worker_id_size"`
	SeqSize      uint8 `json:"seq_size"`
}

// Service leases worker ids and describes Snowflake layouts.
type Service struct {
	configs  *idconfig.Service
	backend  storage.Backend
	ownerID  string
	leaseTTL time.Duration
	now      func() time.Time
}

// New creates a Service. ownerID identifies this worker process for lock
// ownership (distinct from client_fingerprint, which identifies the leasing
// client). leaseTTL <= 0 falls back to defaultLeaseTTL.
func New(configs *idconfig.Service, backend storage.Backend, ownerID string, leaseTTL time.Duration) *Service {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &Service{configs: configs, backend: backend, ownerID: ownerID, leaseTTL: leaseTTL, now: time.Now}
}

// Describe leases (or renews) a worker_id for (key, clientFingerprint) and
// returns the full bit-layout descriptor.
func (s *Service) Describe(ctx context.Context, key, clientFingerprint string) (Descriptor, error) {
	if clientFingerprint == "" {
		return Descriptor{}, httpserver.NewCodedError(httpserver.CodeBadParams, "client_fingerprint is required")
	}

	cfg, err := s.configs.Get(ctx, key, idconfig.IDTypeSnowflake)
	if err != nil {
		return Descriptor{}, mapConfigErr(err)
	}
	sf := cfg.Snowflake

	total := int(sf.SkipSize) + int(sf.TsSize) + int(sf.WorkerIDSize) + int(sf.SeqSize)
	if total > 64 {
		return Descriptor{}, httpserver.NewCodedError(httpserver.CodeInternal, "snowflake config exceeds 64 bits")
	}

	lockKey := "snowflake:" + key
	if err := s.acquireLock(ctx, lockKey); err != nil {
		return Descriptor{}, httpserver.NewCodedError(httpserver.CodeUnavailable, err.Error())
	}
	defer func() { _ = s.backend.ReleaseLock(context.Background(), lockKey, s.ownerID) }()

	workerID, err := s.leaseWorkerID(ctx, key, clientFingerprint, sf.WorkerIDSize)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		SkipSize:     sf.SkipSize,
		BaseTS:       sf.BaseTS,
		TsSize:       sf.TsSize,
		WorkerID:     workerID,
		WorkerIDSize: sf.WorkerIDSize,
		SeqSize:      sf.SeqSize,
	}, nil
}

// acquireLock retries TryAcquireLock a bounded number of times with backoff,
// since lease bookkeeping under it is brief.
func (s *Service) acquireLock(ctx context.Context, lockKey string) error {
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		ok, err := s.backend.TryAcquireLock(ctx, lockKey, s.ownerID, lockTTL)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			if attempts >= maxLockAttempts {
				return struct{}{}, backoff.Permanent(errors.New("snowflake: could not acquire lease lock, pool is busy"))
			}
			return struct{}{}, errors.New("lock held")
		}
		return struct{}{}, nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(maxLockAttempts))
	return err
}

// leaseWorkerID finds or renews a lease for (key, fingerprint) and persists
// the updated lease table. Must be called with the per-key lock held.
func (s *Service) leaseWorkerID(ctx context.Context, key, fingerprint string, workerIDSize uint8) (int64, error) {
	leases, err := s.loadLeases(ctx, key)
	if err != nil {
		return 0, httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
	}

	now := s.now()
	poolSize := int64(1) << workerIDSize

	live := make([]storage.WorkerLease, 0, len(leases))
	used := make(map[int64]bool, len(leases))
	var renewed *storage.WorkerLease

	for _, l := range leases {
		if l.ClientFingerprint == fingerprint {
			renewed = &l
			continue
		}
		if l.ExpiresAt.After(now) {
			live = append(live, l)
			used[l.WorkerID] = true
		}
	}

	var workerID int64
	if renewed != nil {
		workerID = renewed.WorkerID
	} else {
		id, ok := firstFree(poolSize, used)
		if !ok {
			return 0, httpserver.NewCodedError(httpserver.CodeUnavailable, "snowflake worker_id pool exhausted")
		}
		workerID = id
	}

	live = append(live, storage.WorkerLease{
		WorkerID:          workerID,
		ExpiresAt:         now.Add(s.leaseTTL),
		ClientFingerprint: fingerprint,
	})
	sort.Slice(live, func(i, j int) bool { return live[i].WorkerID < live[j].WorkerID })

	if err := s.saveLeases(ctx, key, live); err != nil {
		return 0, httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
	}
	return workerID, nil
}

func firstFree(poolSize int64, used map[int64]bool) (int64, bool) {
	for id := int64(0); id < poolSize; id++ {
		if !used[id] {
			return id, true
		}
	}
	return 0, false
}

func (s *Service) loadLeases(ctx context.Context, key string) ([]storage.WorkerLease, error) {
	raw, err := s.backend.GetObject(ctx, leaseNamespace, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("snowflake: loading leases: %w", err)
	}
	var leases []storage.WorkerLease
	if err := json.Unmarshal(raw, &leases); err != nil {
		return nil, fmt.Errorf("snowflake: decoding leases: %w", err)
	}
	return leases, nil
}

func (s *Service) saveLeases(ctx context.Context, key string, leases []storage.WorkerLease) error {
	raw, err := json.Marshal(leases)
	if err != nil {
		return fmt.Errorf("snowflake: encoding leases: %w", err)
	}
	if err := s.backend.PutObject(ctx, leaseNamespace, key, raw); err != nil {
		return fmt.Errorf("snowflake: saving leases: %w", err)
	}
	return nil
}

func mapConfigErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, idconfig.ErrTypeMismatch) {
		return httpserver.NewCodedError(httpserver.CodeNotFound, "no snowflake config for key")
	}
	return httpserver.NewCodedError(httpserver.CodeInternal, err.Error())
}
