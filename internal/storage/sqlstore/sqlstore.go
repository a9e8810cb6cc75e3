// Package sqlstore implements internal/storage.Backend over database/sql,
// with a PostgreSQL dialect (driven through pgx's stdlib adapter, matching
// the teacher's pgx stack) and a MySQL dialect (go-sql-driver/mysql).
// Placeholder style, the upsert statement, and the advisory-lock calls are
// isolated in dialect.go; a few operations (nowFunc, PutToken, PutObject and
// the TryAcquireLock result scan) also branch on the dialect name inline.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/idbuilder/worker/internal/storage"
)

// Store is a database/sql-backed storage.Backend for either Postgres or MySQL.
type Store struct {
	db      *sql.DB
	dialect dialect

	locksMu sync.Mutex
	locks   map[string]*heldLock
}

type heldLock struct {
	conn    *sql.Conn
	ownerID string
}

// OpenPostgres connects to a PostgreSQL database via pgx's stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{db: db, dialect: postgresDialect{}, locks: make(map[string]*heldLock)}, nil
}

// OpenMySQL connects to a MySQL database via go-sql-driver/mysql.
func OpenMySQL(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return &Store{db: db, dialect: mysqlDialect{}, locks: make(map[string]*heldLock)}, nil
}

// maxReserveAttempts bounds the optimistic-update retry loop (spec §4.1: default 5
// attempts, exponential backoff, 10-50ms jitter).
const maxReserveAttempts = 5

// ReserveRange implements storage.Backend: SELECT ... FOR UPDATE, compute,
// UPDATE ... WHERE version = ?, retried on zero-rows-affected.
func (s *Store) ReserveRange(ctx context.Context, key string, count, delta int64) (int64, int64, error) {
	advance := count * delta
	if advance <= 0 {
		return 0, 0, fmt.Errorf("invalid reservation advance %d", advance)
	}

	var first, last int64
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 50 * time.Millisecond

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		ok, err := s.reserveOnce(ctx, key, advance, delta, &first, &last)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			return first, last, nil
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(d):
		}
	}
	return 0, 0, fmt.Errorf("reserve_range: exhausted %d retries on version conflict for key %q", maxReserveAttempts, key)
}

func (s *Store) reserveOnce(ctx context.Context, key string, advance, delta int64, first, last *int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current, version int64
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT current_value, version FROM id_sequences WHERE key_name = ? FOR UPDATE`), key)
	err = row.Scan(&current, &version)
	if errors.Is(err, sql.ErrNoRows) {
		// Lazily materialize: initial current_value = 0 (the caller's base
		// offset, if any, is applied when rendering, not in storage).
		insert := s.rebind(`INSERT INTO id_sequences (key_name, current_value, version, updated_at) VALUES (?, 0, 0, ` + s.nowFunc() + `)`)
		if _, err := tx.ExecContext(ctx, insert, key); err != nil {
			return false, fmt.Errorf("materializing sequence row: %w", err)
		}
		current, version = 0, 0
	} else if err != nil {
		return false, fmt.Errorf("selecting sequence for update: %w", err)
	}

	newValue := current + advance
	if newValue < current || newValue < 0 {
		return false, storage.ErrExhausted
	}

	update := s.rebind(`UPDATE id_sequences SET current_value = ?, version = version + 1, updated_at = ` + s.nowFunc() + ` WHERE key_name = ? AND version = ?`)
	res, err := tx.ExecContext(ctx, update, newValue, key, version)
	if err != nil {
		return false, fmt.Errorf("updating sequence: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil // version conflict, caller retries
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing reservation: %w", err)
	}

	*first = current + delta
	*last = newValue
	return true, nil
}

func (s *Store) nowFunc() string {
	if s.dialect.name() == "mysql" {
		return "NOW()"
	}
	return "now()"
}

// rebind rewrites a query written with "?" placeholders into the dialect's
// native placeholder style ("?" for MySQL, "$1, $2, ..." for Postgres).
func (s *Store) rebind(query string) string {
	if s.dialect.name() == "mysql" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(s.dialect.placeholder(n))...)
		} else {
			out = append(out, query[i])
		}
	}
	return string(out)
}

// GetSequence implements storage.Backend.
func (s *Store) GetSequence(ctx context.Context, key string) (storage.SequenceState, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT current_value, version, COALESCE(witness, ''), updated_at FROM id_sequences WHERE key_name = ?`), key)
	var st storage.SequenceState
	st.Key = key
	if err := row.Scan(&st.CurrentValue, &st.Version, &st.Witness, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SequenceState{}, storage.ErrNotFound
		}
		return storage.SequenceState{}, fmt.Errorf("selecting sequence: %w", err)
	}
	return st, nil
}

// ResetSequence implements storage.Backend: CAS on the witness column inside
// a transaction, mirroring the Redis Lua script's get-compare-set.
func (s *Store) ResetSequence(ctx context.Context, key string, newValue int64, witness string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentWitness sql.NullString
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT witness FROM id_sequences WHERE key_name = ? FOR UPDATE`), key)
	err = row.Scan(&currentWitness)
	if errors.Is(err, sql.ErrNoRows) {
		insert := s.rebind(`INSERT INTO id_sequences (key_name, current_value, version, witness, updated_at) VALUES (?, ?, 0, ?, ` + s.nowFunc() + `)`)
		if _, err := tx.ExecContext(ctx, insert, key, newValue, witness); err != nil {
			return fmt.Errorf("inserting reset sequence: %w", err)
		}
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("selecting witness for update: %w", err)
	}
	if witness != "" && currentWitness.Valid && currentWitness.String == witness {
		return storage.ErrAlreadyReset
	}

	update := s.rebind(`UPDATE id_sequences SET current_value = ?, version = version + 1, witness = ?, updated_at = ` + s.nowFunc() + ` WHERE key_name = ?`)
	if _, err := tx.ExecContext(ctx, update, newValue, witness, key); err != nil {
		return fmt.Errorf("updating reset sequence: %w", err)
	}
	return tx.Commit()
}

// GetConfig implements storage.Backend.
func (s *Store) GetConfig(ctx context.Context, key string) (storage.ConfigRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id_type, config_json, updated_at FROM id_configs WHERE key_name = ?`), key)
	var rec storage.ConfigRecord
	rec.Key = key
	var raw string
	if err := row.Scan(&rec.IDType, &raw, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ConfigRecord{}, storage.ErrNotFound
		}
		return storage.ConfigRecord{}, fmt.Errorf("selecting config: %w", err)
	}
	rec.Config = json.RawMessage(raw)
	return rec, nil
}

// PutConfig implements storage.Backend via the dialect's upsert statement.
func (s *Store) PutConfig(ctx context.Context, rec storage.ConfigRecord) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsertConfig(), rec.Key, rec.IDType, string(rec.Config))
	if err != nil {
		return fmt.Errorf("upserting config: %w", err)
	}
	return nil
}

// ListConfigs implements storage.Backend via keyset pagination on key_name.
func (s *Store) ListConfigs(ctx context.Context, cursor string, size int) (storage.ConfigPage, error) {
	query := s.rebind(`SELECT key_name, id_type, config_json, updated_at FROM id_configs WHERE key_name > ? ORDER BY key_name ASC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, cursor, size+1)
	if err != nil {
		return storage.ConfigPage{}, fmt.Errorf("listing configs: %w", err)
	}
	defer rows.Close()

	var page storage.ConfigPage
	for rows.Next() {
		var rec storage.ConfigRecord
		var raw string
		if err := rows.Scan(&rec.Key, &rec.IDType, &raw, &rec.UpdatedAt); err != nil {
			return storage.ConfigPage{}, fmt.Errorf("scanning config row: %w", err)
		}
		rec.Config = json.RawMessage(raw)
		page.Items = append(page.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.ConfigPage{}, fmt.Errorf("iterating config rows: %w", err)
	}

	if len(page.Items) > size {
		page.HasMore = true
		page.Items = page.Items[:size]
	}
	if page.HasMore && len(page.Items) > 0 {
		page.NextCursor = page.Items[len(page.Items)-1].Key
	}
	return page, nil
}

// PutToken implements storage.Backend.
func (s *Store) PutToken(ctx context.Context, key string, hash string) error {
	var query string
	if s.dialect.name() == "mysql" {
		query = `INSERT INTO key_tokens (key_name, token_hash, updated_at) VALUES (?, ?, NOW())
		          ON DUPLICATE KEY UPDATE token_hash = VALUES(token_hash), updated_at = NOW()`
	} else {
		query = `INSERT INTO key_tokens (key_name, token_hash, updated_at) VALUES ($1, $2, now())
		          ON CONFLICT (key_name) DO UPDATE SET token_hash = EXCLUDED.token_hash, updated_at = now()`
	}
	if _, err := s.db.ExecContext(ctx, query, key, hash); err != nil {
		return fmt.Errorf("upserting token: %w", err)
	}
	return nil
}

// GetToken implements storage.Backend.
func (s *Store) GetToken(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT token_hash FROM key_tokens WHERE key_name = ?`), key)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("selecting token: %w", err)
	}
	return hash, nil
}

// PutObject implements storage.Backend.
func (s *Store) PutObject(ctx context.Context, namespace, key string, value []byte) error {
	var query string
	if s.dialect.name() == "mysql" {
		query = `INSERT INTO id_objects (namespace, key_name, value, updated_at) VALUES (?, ?, ?, NOW())
		          ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = NOW()`
	} else {
		query = `INSERT INTO id_objects (namespace, key_name, value, updated_at) VALUES ($1, $2, $3, now())
		          ON CONFLICT (namespace, key_name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	}
	if _, err := s.db.ExecContext(ctx, query, namespace, key, string(value)); err != nil {
		return fmt.Errorf("upserting object: %w", err)
	}
	return nil
}

// GetObject implements storage.Backend.
func (s *Store) GetObject(ctx context.Context, namespace, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM id_objects WHERE namespace = ? AND key_name = ?`), namespace, key)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("selecting object: %w", err)
	}
	return []byte(raw), nil
}

// TryAcquireLock implements storage.Backend using the dialect's native
// advisory-lock primitive (pg_try_advisory_lock / GET_LOCK), held on a
// dedicated connection checked out from the pool for the lock's lifetime —
// these are session-scoped, so if the connection dies the lock releases
// itself, which is the crash-safety property spec §4.1 asks for. ttl is not
// used: the lock has no time-based expiry and is held until ReleaseLock or
// until its connection closes.
func (s *Store) TryAcquireLock(ctx context.Context, lockKey, ownerID string, ttl time.Duration) (bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("checking out connection for lock: %w", err)
	}

	query, args := s.dialect.tryAdvisoryLock(lockKey)
	var acquired bool
	row := conn.QueryRowContext(ctx, query, args...)
	if s.dialect.name() == "mysql" {
		var got sql.NullInt64
		if err := row.Scan(&got); err != nil {
			_ = conn.Close()
			return false, fmt.Errorf("GET_LOCK: %w", err)
		}
		acquired = got.Valid && got.Int64 == 1
	} else {
		if err := row.Scan(&acquired); err != nil {
			_ = conn.Close()
			return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
		}
	}

	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	s.locksMu.Lock()
	s.locks[lockKey] = &heldLock{conn: conn, ownerID: ownerID}
	s.locksMu.Unlock()
	return true, nil
}

// ReleaseLock implements storage.Backend.
func (s *Store) ReleaseLock(ctx context.Context, lockKey, ownerID string) error {
	s.locksMu.Lock()
	held, ok := s.locks[lockKey]
	if ok {
		delete(s.locks, lockKey)
	}
	s.locksMu.Unlock()

	if !ok || held.ownerID != ownerID {
		return storage.ErrLockNotOwned
	}

	query, args := s.dialect.releaseAdvisoryLock(lockKey)
	_, err := held.conn.ExecContext(ctx, query, args...)
	closeErr := held.conn.Close()
	if err != nil {
		return fmt.Errorf("releasing advisory lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing lock connection: %w", closeErr)
	}
	return nil
}

// HealthCheck implements storage.Backend.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", s.dialect.name(), err)
	}
	return nil
}

// InitSchema implements storage.Backend by running the embedded
// golang-migrate migration set for this dialect (§6's table layout),
// idempotently — running it twice is a no-op the second time.
func (s *Store) InitSchema(ctx context.Context) error {
	return s.applyMigrations()
}

// SchemaVersion implements storage.Backend via golang-migrate's own version
// tracking table.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.migratedVersion()
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	s.locksMu.Lock()
	for _, held := range s.locks {
		_ = held.conn.Close()
	}
	s.locks = nil
	s.locksMu.Unlock()
	return s.db.Close()
}

var _ storage.Backend = (*Store)(nil)
