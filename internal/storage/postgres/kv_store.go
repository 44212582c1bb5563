// Package postgres provides a Postgres-backed store.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/progress-tracker/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// KVStoreConfig controls the Postgres connection pool used for progress records.
type KVStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// KVStore keeps one row per key with an optional expires_at deadline.
// Expired rows are invisible to reads and removed by PurgeExpired.
type KVStore struct {
	pool  pool
	table string
}

// NewKVStore creates the pool and ensures the table exists.
func NewKVStore(ctx context.Context, cfg KVStoreConfig) (*KVStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s, err := NewKVStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewKVStoreWithPool wraps an existing pool (pgxpool.Pool or pgxmock).
func NewKVStoreWithPool(p pool, table string) (*KVStore, error) {
	if table == "" {
		table = "progress_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &KVStore{pool: p, table: table}, nil
}

// Migrate creates the records table and its prefix index.
func (s *KVStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_key_prefix_idx ON %[1]s (key text_pattern_ops);
	`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Put upserts the row and resets its deadline. The deadline is computed from
// the database clock, the same clock reads and purges compare against.
func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var ttlMillis any
	if ttl > 0 {
		ttlMillis = max(ttl.Milliseconds(), 1)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at, updated_at)
		VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond', now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now();
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, value, ttlMillis); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value of a live row or store.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now());
	`, s.table)
	var value []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes the row if present.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1;`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scan lists live keys beginning with prefix.
func (s *KVStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT key FROM %s
		WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key;
	`, s.table)
	rows, err := s.pool.Query(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// PurgeExpired deletes rows whose deadline has passed.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now();`, s.table)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping reports whether the database is reachable.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *KVStore) Close() error {
	s.pool.Close()
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
