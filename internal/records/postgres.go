package records

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/06Faisal/EcoPulse/internal/api"
)

// PostgresStore keeps records in Postgres.
//
// Schema (created on connect):
//
//	CREATE TABLE eco_trips (
//	  id BIGSERIAL PRIMARY KEY,
//	  user_id TEXT NOT NULL,
//	  occurred_at TEXT NOT NULL,
//	  occurred_unix BIGINT NOT NULL,
//	  distance DOUBLE PRECISION NOT NULL,
//	  co2 DOUBLE PRECISION NOT NULL,
//	  vehicle TEXT NOT NULL
//	);
//	CREATE TABLE eco_bills (
//	  id BIGSERIAL PRIMARY KEY,
//	  user_id TEXT NOT NULL,
//	  occurred_at TEXT NOT NULL,
//	  occurred_unix BIGINT NOT NULL,
//	  units DOUBLE PRECISION NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS eco_trips (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		occurred_unix BIGINT NOT NULL,
		distance DOUBLE PRECISION NOT NULL,
		co2 DOUBLE PRECISION NOT NULL,
		vehicle TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_eco_trips_user ON eco_trips(user_id, occurred_unix)`,
	`CREATE TABLE IF NOT EXISTS eco_bills (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		occurred_unix BIGINT NOT NULL,
		units DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_eco_bills_user ON eco_bills(user_id, occurred_unix)`,
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
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

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool returns the connection pool shared with the dedup table.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStore) InsertTrip(ctx context.Context, trip api.Trip) error {
	query := `
		INSERT INTO eco_trips (user_id, occurred_at, occurred_unix, distance, co2, vehicle)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.pool.Exec(ctx, query, trip.UserID, trip.Timestamp.Format(time.RFC3339Nano),
		trip.Timestamp.UnixNano(), trip.Distance, trip.Emission, string(trip.Vehicle))
	if err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) InsertBill(ctx context.Context, bill api.Bill) error {
	query := `
		INSERT INTO eco_bills (user_id, occurred_at, occurred_unix, units)
		VALUES ($1, $2, $3, $4)
	`
	_, err := p.pool.Exec(ctx, query, bill.UserID, bill.Timestamp.Format(time.RFC3339Nano),
		bill.Timestamp.UnixNano(), bill.Units)
	if err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) Trips(ctx context.Context, userID string) ([]api.Trip, error) {
	query := `
		SELECT occurred_at, distance, co2, vehicle
		FROM eco_trips
		WHERE user_id = $1
		ORDER BY occurred_unix ASC, id ASC
	`
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var trips []api.Trip
	for rows.Next() {
		var at, vehicle string
		trip := api.Trip{UserID: userID}
		if err := rows.Scan(&at, &trip.Distance, &trip.Emission, &vehicle); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		if trip.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("corrupt trip timestamp %q: %w", at, err)
		}
		trip.Vehicle = api.ParseVehicle(vehicle)
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

func (p *PostgresStore) Bills(ctx context.Context, userID string) ([]api.Bill, error) {
	query := `
		SELECT occurred_at, units
		FROM eco_bills
		WHERE user_id = $1
		ORDER BY occurred_unix ASC, id ASC
	`
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var bills []api.Bill
	for rows.Next() {
		var at string
		bill := api.Bill{UserID: userID}
		if err := rows.Scan(&at, &bill.Units); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		if bill.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("corrupt bill timestamp %q: %w", at, err)
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func (p *PostgresStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT user_id FROM eco_trips ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
