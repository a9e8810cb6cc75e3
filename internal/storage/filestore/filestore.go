// Package filestore implements internal/storage.Backend on the local
// filesystem: one JSON file per key, guarded by an OS advisory lock for the
// duration of each read-modify-write. Single-node only — uniqueness of
// issued IDs is only guaranteed when exactly one process points at base.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/idbuilder/worker/internal/storage"
)

// Store is a filesystem-backed storage.Backend.
type Store struct {
	base string
}

// New creates a Store rooted at base, creating the directory tree if needed.
func New(base string) (*Store, error) {
	s := &Store{base: base}
	for _, dir := range []string{"sequences", "configs", "tokens", "locks", "objects"} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s dir: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) seqPath(key string) string    { return filepath.Join(s.base, "sequences", key+".json") }
func (s *Store) cfgPath(key string) string    { return filepath.Join(s.base, "configs", key+".json") }
func (s *Store) tokenPath(key string) string  { return filepath.Join(s.base, "tokens", key+".json") }
func (s *Store) lockPath(lockKey string) string {
	return filepath.Join(s.base, "locks", lockKey+".lock")
}
func (s *Store) objPath(namespace, key string) string {
	return filepath.Join(s.base, "objects", namespace+"__"+key+".json")
}

type sequenceFile struct {
	CurrentValue int64     `json:"current"`
	Version      int64     `json:"version"`
	Witness      string    `json:"witness,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// withFileLock acquires an exclusive flock on path+".flock" for the duration of fn.
func withFileLock(ctx context.Context, path string, fn func() error) error {
	fl := flock.New(path + ".flock")
	locked, err := fl.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire file lock for %s", path)
	}
	defer fl.Unlock()
	return fn()
}

func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReserveRange implements storage.Backend.
func (s *Store) ReserveRange(ctx context.Context, key string, count, delta int64) (int64, int64, error) {
	path := s.seqPath(key)
	var first, last int64
	err := withFileLock(ctx, path, func() error {
		var sf sequenceFile
		exists, err := readJSON(path, &sf)
		if err != nil {
			return err
		}
		if !exists {
			// Materialize lazily: the first allocation starts the counter at
			// 0, so the first reserved value is delta. Any per-key base offset
			// is applied by the caller (pkg/increment, pkg/formatted) when
			// rendering.
			sf = sequenceFile{CurrentValue: 0}
		}

		advance := count * delta
		if advance <= 0 {
			return fmt.Errorf("invalid reservation advance %d", advance)
		}
		newValue := sf.CurrentValue + advance
		if newValue < sf.CurrentValue || newValue < 0 {
			return storage.ErrExhausted
		}

		first = sf.CurrentValue + delta
		last = newValue

		sf.CurrentValue = newValue
		sf.UpdatedAt = time.Now().UTC()
		return writeJSON(path, sf)
	})
	if err != nil {
		return 0, 0, err
	}
	return first, last, nil
}

// GetSequence implements storage.Backend.
func (s *Store) GetSequence(ctx context.Context, key string) (storage.SequenceState, error) {
	path := s.seqPath(key)
	var sf sequenceFile
	exists, err := readJSON(path, &sf)
	if err != nil {
		return storage.SequenceState{}, err
	}
	if !exists {
		return storage.SequenceState{}, storage.ErrNotFound
	}
	return storage.SequenceState{
		Key:          key,
		CurrentValue: sf.CurrentValue,
		Version:      sf.Version,
		Witness:      sf.Witness,
		UpdatedAt:    sf.UpdatedAt,
	}, nil
}

// ResetSequence implements storage.Backend.
func (s *Store) ResetSequence(ctx context.Context, key string, newValue int64, witness string) error {
	path := s.seqPath(key)
	return withFileLock(ctx, path, func() error {
		var sf sequenceFile
		if _, err := readJSON(path, &sf); err != nil {
			return err
		}
		if sf.Witness == witness && witness != "" {
			return storage.ErrAlreadyReset
		}
		sf.CurrentValue = newValue
		sf.Witness = witness
		sf.Version++
		sf.UpdatedAt = time.Now().UTC()
		return writeJSON(path, sf)
	})
}

// GetConfig implements storage.Backend.
func (s *Store) GetConfig(ctx context.Context, key string) (storage.ConfigRecord, error) {
	path := s.cfgPath(key)
	var rec fileConfigRecord
	exists, err := readJSON(path, &rec)
	if err != nil {
		return storage.ConfigRecord{}, err
	}
	if !exists {
		return storage.ConfigRecord{}, storage.ErrNotFound
	}
	return rec.toConfigRecord(key), nil
}

type fileConfigRecord struct {
	IDType    string          `json:"id_type"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r fileConfigRecord) toConfigRecord(key string) storage.ConfigRecord {
	return storage.ConfigRecord{Key: key, IDType: r.IDType, Config: r.Config, UpdatedAt: r.UpdatedAt}
}

// PutConfig implements storage.Backend.
func (s *Store) PutConfig(ctx context.Context, rec storage.ConfigRecord) error {
	path := s.cfgPath(rec.Key)
	return withFileLock(ctx, path, func() error {
		out := fileConfigRecord{
			IDType:    rec.IDType,
			Config:    rec.Config,
			UpdatedAt: time.Now().UTC(),
		}
		return writeJSON(path, out)
	})
}

// ListConfigs implements storage.Backend. Cursor paging over the local
// directory listing: there is no index, so this walks and sorts every file —
// acceptable for the single-node file backend's expected scale.
func (s *Store) ListConfigs(ctx context.Context, cursor string, size int) (storage.ConfigPage, error) {
	dir := filepath.Join(s.base, "configs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return storage.ConfigPage{}, fmt.Errorf("listing configs dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(keys, cursor)
		if idx < len(keys) && keys[idx] == cursor {
			idx++
		}
		start = idx
	}
	if start > len(keys) {
		start = len(keys)
	}

	end := start + size
	hasMore := end < len(keys)
	if end > len(keys) {
		end = len(keys)
	}

	page := storage.ConfigPage{HasMore: hasMore}
	for _, k := range keys[start:end] {
		rec, err := s.GetConfig(ctx, k)
		if err != nil {
			continue
		}
		page.Items = append(page.Items, rec)
	}
	if hasMore && len(page.Items) > 0 {
		page.NextCursor = page.Items[len(page.Items)-1].Key
	}
	return page, nil
}

// PutToken implements storage.Backend.
func (s *Store) PutToken(ctx context.Context, key string, hash string) error {
	path := s.tokenPath(key)
	return withFileLock(ctx, path, func() error {
		return writeJSON(path, map[string]string{"hash": hash})
	})
}

// GetToken implements storage.Backend.
func (s *Store) GetToken(ctx context.Context, key string) (string, error) {
	path := s.tokenPath(key)
	var m map[string]string
	exists, err := readJSON(path, &m)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", storage.ErrNotFound
	}
	return m["hash"], nil
}

// PutObject implements storage.Backend.
func (s *Store) PutObject(ctx context.Context, namespace, key string, value []byte) error {
	path := s.objPath(namespace, key)
	return withFileLock(ctx, path, func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, value, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
}

// GetObject implements storage.Backend.
func (s *Store) GetObject(ctx context.Context, namespace, key string) ([]byte, error) {
	path := s.objPath(namespace, key)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

type lockFile struct {
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TryAcquireLock implements storage.Backend using an exclusive flock plus a
// JSON owner/expiry record, so stale locks (crashed holder) can still be
// reclaimed once the recorded TTL passes even if the flock itself was
// released by process exit.
func (s *Store) TryAcquireLock(ctx context.Context, lockKey, ownerID string, ttl time.Duration) (bool, error) {
	path := s.lockPath(lockKey)
	acquired := false
	err := withFileLock(ctx, path, func() error {
		var lf lockFile
		exists, err := readJSON(path, &lf)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if exists && lf.OwnerID != ownerID && lf.ExpiresAt.After(now) {
			return nil // held by someone else, not expired
		}
		lf = lockFile{OwnerID: ownerID, ExpiresAt: now.Add(ttl)}
		if err := writeJSON(path, lf); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseLock implements storage.Backend.
func (s *Store) ReleaseLock(ctx context.Context, lockKey, ownerID string) error {
	path := s.lockPath(lockKey)
	return withFileLock(ctx, path, func() error {
		var lf lockFile
		exists, err := readJSON(path, &lf)
		if err != nil {
			return err
		}
		if !exists || lf.OwnerID != ownerID {
			return storage.ErrLockNotOwned
		}
		return os.Remove(path)
	})
}

// HealthCheck implements storage.Backend.
func (s *Store) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(s.base, ".health")
	if err := os.WriteFile(probe, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), 0o644); err != nil {
		return fmt.Errorf("file backend health check: %w", err)
	}
	return nil
}

// InitSchema implements storage.Backend: the directory tree created in New
// is the entire "schema", plus a schema_version marker file.
func (s *Store) InitSchema(ctx context.Context) error {
	path := filepath.Join(s.base, "schema_version")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.WriteFile(path, []byte("1"), 0o644)
	}
	return nil
}

// SchemaVersion implements storage.Backend.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	path := filepath.Join(s.base, "schema_version")
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parsing schema_version: %w", err)
	}
	return v, nil
}

// Close implements storage.Backend. The file backend holds no long-lived
// resources beyond per-operation locks.
func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
