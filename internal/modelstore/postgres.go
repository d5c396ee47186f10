package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
)

// PostgresStore keeps one row per user:
//
//	CREATE TABLE eco_models (
//	  user_id TEXT PRIMARY KEY,
//	  model BYTEA,
//	  metadata JSONB,
//	  updated_at TIMESTAMPTZ DEFAULT NOW()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

const modelsSchema = `
	CREATE TABLE IF NOT EXISTS eco_models (
		user_id TEXT PRIMARY KEY,
		model BYTEA,
		metadata JSONB,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)
`

// NewPostgresStore connects to Postgres and ensures the table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, modelsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) SaveModel(ctx context.Context, userID string, model *forest.Regressor) error {
	data, err := encodeModel(model)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO eco_models (user_id, model, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET model = EXCLUDED.model, updated_at = NOW()
	`
	if _, err := p.pool.Exec(ctx, query, userID, data); err != nil {
		return fmt.Errorf("postgres upsert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) LoadModel(ctx context.Context, userID string) (*forest.Regressor, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT model FROM eco_models WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && data == nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	return decodeModel(data)
}

func (p *PostgresStore) ModelVersion(ctx context.Context, userID string) (string, error) {
	var prefix []byte
	err := p.pool.QueryRow(ctx,
		`SELECT substring(model FROM 1 FOR $2) FROM eco_models WHERE user_id = $1`,
		userID, versionPrefixLen).Scan(&prefix)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && prefix == nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres query failed: %w", err)
	}
	return envelopeVersion(prefix)
}

func (p *PostgresStore) SaveMetadata(ctx context.Context, userID string, meta api.ModelMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
		INSERT INTO eco_models (user_id, metadata, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET metadata = EXCLUDED.metadata, updated_at = NOW()
	`
	if _, err := p.pool.Exec(ctx, query, userID, data); err != nil {
		return fmt.Errorf("postgres upsert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) LoadMetadata(ctx context.Context, userID string) (*api.ModelMetadata, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT metadata FROM eco_models WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && data == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	return decodeMetadata(data)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
