package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RedisStore implements Store using Redis SETNX for atomic first-write-wins.
// Keys live under ecopulse:applied:<key>.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed dedup store.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func appliedKey(key string) string { return "ecopulse:applied:" + key }

func (r *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, appliedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	// losing the SETNX race means the key is already marked
	if err := r.client.SetNX(ctx, appliedKey(key), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// PostgresStore implements Store on the record store's pool using a unique
// key and ON CONFLICT, so applied keys share the records' database.
//
// Schema (created on construction):
//
//	CREATE TABLE eco_wal_applied (
//	  entry_key TEXT PRIMARY KEY,
//	  expires_at TIMESTAMPTZ,
//	  created_at TIMESTAMPTZ DEFAULT NOW()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore migrates the dedup table on pool. The pool stays owned by
// the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	query := `
		CREATE TABLE IF NOT EXISTS eco_wal_applied (
			entry_key TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to migrate dedup table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Seen(ctx context.Context, key string) (bool, error) {
	query := `
		SELECT 1
		FROM eco_wal_applied
		WHERE entry_key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`
	var one int
	err := p.pool.QueryRow(ctx, query, key).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres query failed: %w", err)
	}
	return true, nil
}

func (p *PostgresStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	// an expired row is revived, a live one is left alone
	query := `
		INSERT INTO eco_wal_applied (entry_key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (entry_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE eco_wal_applied.expires_at IS NOT NULL AND eco_wal_applied.expires_at <= NOW()
	`
	if _, err := p.pool.Exec(ctx, query, key, expiresAt); err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}
	return nil
}

// CleanupExpired removes expired keys and returns how many were deleted.
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM eco_wal_applied WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the record store.
func (p *PostgresStore) Close() error {
	return nil
}

// SQLiteStore keeps applied keys in a table of the record store's SQLite
// database, so keys and records are lost or kept together.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore migrates the dedup table on db. The handle stays owned by
// the caller.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS wal_applied (
		entry_key TEXT PRIMARY KEY,
		expires_unix INTEGER
	);`)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate dedup table: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Seen(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM wal_applied WHERE entry_key = ? AND (expires_unix IS NULL OR expires_unix > ?)`,
		key, s.now().UnixNano()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite query failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	now := s.now()
	var expires any
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wal_applied (entry_key, expires_unix) VALUES (?, ?)
		 ON CONFLICT(entry_key) DO UPDATE SET expires_unix = excluded.expires_unix
		 WHERE wal_applied.expires_unix IS NOT NULL AND wal_applied.expires_unix <= ?`,
		key, expires, now.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite insert failed: %w", err)
	}
	return nil
}

// Close is a no-op; the database belongs to the record store.
func (s *SQLiteStore) Close() error {
	return nil
}
