package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/config"
	"github.com/06Faisal/EcoPulse/internal/dedup"
	"github.com/06Faisal/EcoPulse/internal/events"
	"github.com/06Faisal/EcoPulse/internal/modelstore"
	"github.com/06Faisal/EcoPulse/internal/records"
	"github.com/06Faisal/EcoPulse/internal/wal"
)

func TestBuildWithLocalBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Records.SQLitePath = filepath.Join(dir, "db", "ecopulse.db")
	cfg.Models.Dir = filepath.Join(dir, "models")
	cfg.WAL.Dir = filepath.Join(dir, "wal")

	a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.Close(context.Background())

	if _, ok := a.Records.(*records.SQLiteStore); !ok {
		t.Errorf("records = %T, want *records.SQLiteStore", a.Records)
	}
	cached, ok := a.Models.(*modelstore.CachedStore)
	if !ok {
		t.Fatalf("models = %T, want *modelstore.CachedStore", a.Models)
	}
	if _, ok := cached.Store.(*modelstore.FileStore); !ok {
		t.Errorf("cached store wraps %T, want *modelstore.FileStore", cached.Store)
	}
	if _, ok := a.Publisher.(events.NoopPublisher); !ok {
		t.Errorf("publisher = %T, want NoopPublisher", a.Publisher)
	}
	if _, ok := a.Applied.(*dedup.SQLiteStore); !ok {
		t.Errorf("applied keys = %T, want *dedup.SQLiteStore", a.Applied)
	}
	if a.WAL == nil || !a.Limiter.Enabled() {
		t.Error("Expected WAL and rate limiter to be configured")
	}

	in := api.TripInput{UserID: "alice", Date: "2024-01-01", Distance: 3, CO2: 1}
	if _, err := a.Service.RecordTrip(context.Background(), in); err != nil {
		t.Fatalf("Failed to record trip: %v", err)
	}
	ids, err := a.Records.UserIDs(context.Background())
	if err != nil || len(ids) != 1 {
		t.Errorf("Expected one user, got %v (%v)", ids, err)
	}
}

func TestOpenUnknownBackends(t *testing.T) {
	if _, err := OpenRecords(context.Background(), config.RecordsConfig{Backend: "mongo"}); err == nil {
		t.Error("Expected error for unknown records backend")
	}
	if _, err := OpenModels(context.Background(), config.ModelsConfig{Backend: "s3"}); err == nil {
		t.Error("Expected error for unknown model backend")
	}
}

func TestReplayAfterRestartSkipsStoredRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Records.SQLitePath = filepath.Join(dir, "ecopulse.db")
	cfg.Models.Dir = filepath.Join(dir, "models")
	cfg.WAL.Dir = filepath.Join(dir, "wal")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Build(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		in := api.TripInput{UserID: "alice", Date: date, Distance: 3, CO2: 1}
		if _, err := a.Service.RecordTrip(ctx, in); err != nil {
			t.Fatalf("Failed to record trip: %v", err)
		}
	}
	walPath := a.WAL.Path()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Failed to close app: %v", err)
	}

	b, err := Build(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to rebuild app: %v", err)
	}
	defer b.Close(ctx)

	entries, err := wal.Replay(walPath)
	if err != nil {
		t.Fatalf("Failed to read WAL: %v", err)
	}
	n, err := b.Service.Replay(ctx, entries)
	if err != nil {
		t.Fatalf("Failed to replay WAL: %v", err)
	}
	if n != 0 {
		t.Errorf("replay stored %d records, want 0", n)
	}
	trips, err := b.Records.Trips(ctx, "alice")
	if err != nil || len(trips) != 3 {
		t.Errorf("trips after replay = %d (%v), want 3", len(trips), err)
	}
}

func TestOpenDedupFollowsRecords(t *testing.T) {
	cfg := config.Default()
	s, err := OpenDedup(context.Background(), cfg, records.NewMemoryStore())
	if err != nil {
		t.Fatalf("Failed to open dedup store: %v", err)
	}
	if _, ok := s.(*dedup.MemoryStore); !ok {
		t.Errorf("dedup store = %T, want *dedup.MemoryStore", s)
	}

	cfg.Dedup.Backend = "etcd"
	if _, err := OpenDedup(context.Background(), cfg, records.NewMemoryStore()); err == nil {
		t.Error("Expected error for unknown dedup backend")
	}
}
