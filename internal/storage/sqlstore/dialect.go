package sqlstore

import "fmt"

// dialect captures the handful of ways the Postgres and MySQL realizations
// of storage.Backend differ: placeholder style, the upsert statement shape,
// and the advisory-lock primitive. Everything else (the reserve_range
// select-for-update-then-versioned-update loop, retried via
// cenkalti/backoff) is shared.
type dialect interface {
	name() string
	placeholder(n int) string
	upsertConfig() string
	tryAdvisoryLock(lockKey string) (query string, args []any)
	releaseAdvisoryLock(lockKey string) (query string, args []any)
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) upsertConfig() string {
	return `INSERT INTO id_configs (key_name, id_type, config_json, updated_at)
	        VALUES ($1, $2, $3, now())
	        ON CONFLICT (key_name) DO UPDATE
	        SET id_type = EXCLUDED.id_type, config_json = EXCLUDED.config_json, updated_at = now()`
}

// tryAdvisoryLock hashes lockKey to a 64-bit signed integer (Postgres
// advisory locks are keyed by bigint) and calls pg_try_advisory_lock, which
// is itself the whole "try acquire" — no separate row is written.
func (postgresDialect) tryAdvisoryLock(lockKey string) (string, []any) {
	return `SELECT pg_try_advisory_lock($1)`, []any{lockKeyHash(lockKey)}
}

func (postgresDialect) releaseAdvisoryLock(lockKey string) (string, []any) {
	return `SELECT pg_advisory_unlock($1)`, []any{lockKeyHash(lockKey)}
}

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) placeholder(int) string { return "?" }

func (mysqlDialect) upsertConfig() string {
	return `INSERT INTO id_configs (key_name, id_type, config_json, updated_at)
	        VALUES (?, ?, ?, NOW())
	        ON DUPLICATE KEY UPDATE id_type = VALUES(id_type), config_json = VALUES(config_json), updated_at = NOW()`
}

func (mysqlDialect) tryAdvisoryLock(lockKey string) (string, []any) {
	return `SELECT GET_LOCK(?, 0)`, []any{lockKey}
}

func (mysqlDialect) releaseAdvisoryLock(lockKey string) (string, []any) {
	return `SELECT RELEASE_LOCK(?)`, []any{lockKey}
}

// lockKeyHash folds an arbitrary lock key string into a signed 64-bit value
// for Postgres's bigint-keyed advisory lock functions (FNV-1a, stable across
// processes — the whole point of an advisory lock key).
func lockKeyHash(s string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return int64(h)
}
