// Package dedup remembers which ingestion WAL entries have already been
// applied to the record store, so replaying a log never inserts a record
// twice.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store records applied entry keys. A zero ttl keeps a key forever.
type Store interface {
	// Seen reports whether key was marked and has not expired.
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records key. First write wins; marking a live key is a no-op.
	Mark(ctx context.Context, key string, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory dedup store with optional file snapshot
type MemoryStore struct {
	mu       sync.RWMutex
	store    map[string]entry
	snapshot string // optional file path for persistence
	now      func() time.Time
}

type entry struct {
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e entry) live(now time.Time) bool {
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// NewMemoryStore creates an in-memory dedup store. When snapshotPath is set
// the keys are loaded from it now and written back on Close.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	ms := &MemoryStore{
		store:    make(map[string]entry),
		snapshot: snapshotPath,
		now:      time.Now,
	}

	if snapshotPath != "" {
		if err := ms.loadSnapshot(); err != nil {
			return nil, err
		}
	}

	return ms, nil
}

func (m *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[key]
	return ok && e.live(m.now()), nil
}

func (m *MemoryStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, exists := m.store[key]; exists && e.live(now) {
		return nil
	}

	e := entry{}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	m.store[key] = e
	return nil
}

// Len returns the number of live keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, e := range m.store {
		if e.live(now) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return fmt.Errorf("failed to read dedup snapshot: %w", err)
	}

	var snapshot map[string]entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, v := range snapshot {
		if v.live(now) {
			m.store[k] = v
		}
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	now := m.now()
	toSave := make(map[string]entry, len(m.store))
	for k, v := range m.store {
		if v.live(now) {
			toSave[k] = v
		}
	}
	m.mu.RUnlock()

	data, err := json.Marshal(toSave)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.snapshot); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}
	tmp := m.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, m.snapshot)
}
