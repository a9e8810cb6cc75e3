// Package storage defines the contract every idbuilder persistence backend
// must satisfy: atomic range reservation, config and token storage, and a
// distributed lock primitive, expressed in terms of the observable
// guarantees each backend must provide rather than any one backend's native
// locking type.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Backend implementations. Callers compare with
// errors.Is; backends must wrap these rather than returning bare strings.
var (
	// ErrNotFound is returned when a key, config, or token has never been written.
	ErrNotFound = errors.New("storage: not found")
	// ErrExhausted is returned by ReserveRange when the advance would overflow
	// int64 or exceed a configured per-key maximum.
	ErrExhausted = errors.New("storage: sequence exhausted")
	// ErrAlreadyReset is returned by ResetSequence when the stored witness
	// already equals the requested witness (another worker won the race).
	ErrAlreadyReset = errors.New("storage: already reset")
	// ErrLockNotOwned is returned by ReleaseLock when the caller does not
	// currently hold the named lock.
	ErrLockNotOwned = errors.New("storage: lock not held by owner")
)

// SequenceState is the persistent per-key counter record (spec §3).
type SequenceState struct {
	Key          string
	CurrentValue int64
	Version      int64 // only meaningful for SQL backends (optimistic CAS)
	Witness      string
	UpdatedAt    time.Time
}

// ConfigRecord pairs a key with its opaque, backend-stored config blob and
// the id_type discriminator needed for listing without a full decode.
type ConfigRecord struct {
	Key       string
	IDType    string
	Config    []byte // JSON-encoded IdConfig
	UpdatedAt time.Time
}

// ConfigPage is the result of a cursor-paginated config listing.
type ConfigPage struct {
	Items      []ConfigRecord
	NextCursor string
	HasMore    bool
}

// Backend is the storage contract satisfied by the file, Redis, MySQL, and
// PostgreSQL implementations. Every operation must preserve the uniqueness
// invariant stated in spec.md §4.1 regardless of which backend is chosen:
// the rest of the core must not know or care which one is wired in.
type Backend interface {
	// ReserveRange atomically advances the persistent counter for key by
	// count*delta and returns the inclusive range [first, last] such that
	// first is what the next consumer should receive. Returned ranges for a
	// given key are disjoint across every caller, across every worker.
	ReserveRange(ctx context.Context, key string, count int64, delta int64) (first, last int64, err error)

	// GetSequence returns the current committed value for key.
	// Returns ErrNotFound if key has never been allocated.
	GetSequence(ctx context.Context, key string) (SequenceState, error)

	// ResetSequence sets current_value := newValue and records witness
	// atomically, unless the stored witness already equals witness, in
	// which case it returns ErrAlreadyReset and makes no change.
	ResetSequence(ctx context.Context, key string, newValue int64, witness string) error

	// GetConfig reads a config blob. Returns ErrNotFound if unset.
	GetConfig(ctx context.Context, key string) (ConfigRecord, error)

	// PutConfig upserts a config blob. Writes for a given key are serialized.
	PutConfig(ctx context.Context, rec ConfigRecord) error

	// ListConfigs returns a page of configs ordered by key, starting after cursor.
	ListConfigs(ctx context.Context, cursor string, size int) (ConfigPage, error)

	// PutToken upserts the token hash stored for key.
	PutToken(ctx context.Context, key string, hash string) error

	// GetToken reads the token hash stored for key. Returns ErrNotFound if unset.
	GetToken(ctx context.Context, key string) (string, error)

	// PutObject upserts an opaque, namespaced JSON blob. Used for state that
	// doesn't fit the config/sequence/token shapes above, currently just
	// snowflake worker-lease tables (namespace "snowflake_leases").
	PutObject(ctx context.Context, namespace, key string, value []byte) error

	// GetObject reads an opaque namespaced blob. Returns ErrNotFound if unset.
	GetObject(ctx context.Context, namespace, key string) ([]byte, error)

	// TryAcquireLock attempts to acquire a best-effort distributed mutual
	// exclusion lock. Returns true iff the caller now holds it. Must never
	// grant the lock to two owners simultaneously within ttl (assuming
	// bounded clock skew). Expiry allows re-acquisition by anyone.
	TryAcquireLock(ctx context.Context, lockKey string, ownerID string, ttl time.Duration) (bool, error)

	// ReleaseLock releases lockKey only if still held by ownerID.
	// Returns ErrLockNotOwned otherwise (not treated as fatal by callers).
	ReleaseLock(ctx context.Context, lockKey string, ownerID string) error

	// HealthCheck performs a round-trip probe against the backend.
	HealthCheck(ctx context.Context) error

	// InitSchema idempotently creates the structural setup (tables/indices,
	// or directory tree) this backend needs. Running it twice must not
	// break or duplicate state.
	InitSchema(ctx context.Context) error

	// SchemaVersion returns the currently applied schema version, or 0 if
	// schema has never been initialized.
	SchemaVersion(ctx context.Context) (int, error)

	// Close releases any held resources (connection pools, file handles).
	Close() error
}

// WorkerLease is the snowflake worker_id assignment record (spec §3).
// pkg/snowflake persists a per-key slice of these as a JSON blob through
// Backend's PutObject/GetObject, serialized by Backend's lock primitive.
type WorkerLease struct {
	WorkerID          int64     `json:"worker_id"`
	ExpiresAt         time.Time `json:"expires_at"`
	ClientFingerprint string    `json:"client_fingerprint"`
}
