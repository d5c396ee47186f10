// Package records stores the raw trips and bills users submit.
package records

import (
	"context"
	"sort"
	"sync"

	"github.com/06Faisal/EcoPulse/internal/api"
)

// Source reads a user's records. Trips and bills come back in ascending
// timestamp order; UserIDs is sorted and lists users with at least one trip.
type Source interface {
	Trips(ctx context.Context, userID string) ([]api.Trip, error)
	Bills(ctx context.Context, userID string) ([]api.Bill, error)
	UserIDs(ctx context.Context) ([]string, error)
}

// Sink appends records.
type Sink interface {
	InsertTrip(ctx context.Context, trip api.Trip) error
	InsertBill(ctx context.Context, bill api.Bill) error
}

// Store is a Source and Sink backed by one database.
type Store interface {
	Source
	Sink
	Close() error
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string][]api.Trip
	bills map[string][]api.Bill
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips: make(map[string][]api.Trip),
		bills: make(map[string][]api.Bill),
	}
}

// InsertTrip appends a trip
func (m *MemoryStore) InsertTrip(ctx context.Context, trip api.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.UserID] = append(m.trips[trip.UserID], trip)
	return nil
}

// InsertBill appends a bill
func (m *MemoryStore) InsertBill(ctx context.Context, bill api.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[bill.UserID] = append(m.bills[bill.UserID], bill)
	return nil
}

// Trips returns a copy of the user's trips ordered by timestamp
func (m *MemoryStore) Trips(ctx context.Context, userID string) ([]api.Trip, error) {
	m.mu.RLock()
	out := append([]api.Trip(nil), m.trips[userID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Bills returns a copy of the user's bills ordered by timestamp
func (m *MemoryStore) Bills(ctx context.Context, userID string) ([]api.Bill, error) {
	m.mu.RLock()
	out := append([]api.Bill(nil), m.bills[userID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// UserIDs returns every user with at least one trip
func (m *MemoryStore) UserIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.trips))
	for id, trips := range m.trips {
		if len(trips) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
