package records

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/06Faisal/EcoPulse/internal/api"
)

// SQLiteStore keeps records in a local SQLite database.
//
// Timestamps are stored twice: occurred_at keeps the submitted offset so the
// calendar date survives a round trip, occurred_unix orders rows.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent inserts
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return s, nil
}

// DB returns the underlying handle for tables that must share the records'
// database.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			occurred_unix INTEGER NOT NULL,
			distance REAL NOT NULL,
			co2 REAL NOT NULL,
			vehicle TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trips_user ON trips(user_id, occurred_unix);`,
		`CREATE TABLE IF NOT EXISTS bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			occurred_unix INTEGER NOT NULL,
			units REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bills_user ON bills(user_id, occurred_unix);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertTrip appends a trip
func (s *SQLiteStore) InsertTrip(ctx context.Context, trip api.Trip) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trips(user_id, occurred_at, occurred_unix, distance, co2, vehicle) VALUES(?, ?, ?, ?, ?, ?)`,
		trip.UserID, trip.Timestamp.Format(time.RFC3339Nano), trip.Timestamp.UnixNano(),
		trip.Distance, trip.Emission, string(trip.Vehicle))
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

// InsertBill appends a bill
func (s *SQLiteStore) InsertBill(ctx context.Context, bill api.Bill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bills(user_id, occurred_at, occurred_unix, units) VALUES(?, ?, ?, ?)`,
		bill.UserID, bill.Timestamp.Format(time.RFC3339Nano), bill.Timestamp.UnixNano(), bill.Units)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}
	return nil
}

// Trips returns the user's trips ordered by timestamp
func (s *SQLiteStore) Trips(ctx context.Context, userID string) ([]api.Trip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurred_at, distance, co2, vehicle FROM trips WHERE user_id = ? ORDER BY occurred_unix ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []api.Trip
	for rows.Next() {
		var (
			at      string
			vehicle string
			trip    = api.Trip{UserID: userID}
		)
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

// Bills returns the user's bills ordered by timestamp
func (s *SQLiteStore) Bills(ctx context.Context, userID string) ([]api.Bill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurred_at, units FROM bills WHERE user_id = ? ORDER BY occurred_unix ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
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

// UserIDs returns every user with at least one trip
func (s *SQLiteStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM trips ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query user ids: %w", err)
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

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
