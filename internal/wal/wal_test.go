package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWAL(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	bodies := [][]byte{
		[]byte(`{"user_id":"alice","co2":1.5}`),
		[]byte("line|with|pipes\nand newline"),
	}
	if _, err := w.Append(KindTrip, bodies[0]); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if _, err := w.Append(KindBill, bodies[1]); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	path := w.Path()
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindTrip || entries[1].Kind != KindBill {
		t.Errorf("unexpected kinds: %q %q", entries[0].Kind, entries[1].Kind)
	}
	for i, e := range entries {
		if string(e.Body) != string(bodies[i]) {
			t.Errorf("entry %d body = %q, want %q", i, e.Body, bodies[i])
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has zero timestamp", i)
		}
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.wal")
	content := "garbage\n" +
		"2024-01-01T00:00:00Z|trip|eyJhIjoxfQ==\n" +
		"not-a-time|trip|eyJhIjoxfQ==\n" +
		"2024-01-01T00:00:00Z|trip|%%%\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	entries, err := Replay(path)
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}
	if len(entries) != 1 || string(entries[0].Body) != `{"a":1}` {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestReplayMissingFile(t *testing.T) {
	entries, err := Replay(filepath.Join(t.TempDir(), "missing.wal"))
	if err != nil || entries != nil {
		t.Errorf("Expected no entries and no error, got %v, %v", entries, err)
	}
}

func TestDailyRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWAL(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer w.Close()

	day1 := time.Date(2030, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	if _, err := w.Append(KindTrip, []byte("a")); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	first := w.Path()

	w.now = func() time.Time { return day1.Add(2 * time.Minute) }
	if _, err := w.Append(KindTrip, []byte("b")); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	second := w.Path()

	if filepath.Base(first) != "inbox-20300301.wal" || filepath.Base(second) != "inbox-20300302.wal" {
		t.Errorf("unexpected files: %s, %s", first, second)
	}
	for _, p := range []string{first, second} {
		entries, err := Replay(p)
		if err != nil || len(entries) != 1 {
			t.Errorf("Expected 1 entry in %s, got %d (%v)", p, len(entries), err)
		}
	}
}

func TestAppendRejectsBadKind(t *testing.T) {
	w, err := NewInboxWAL(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer w.Close()

	if _, err := w.Append("a|b", []byte("x")); err == nil {
		t.Error("Expected error for kind containing separator")
	}
	if _, err := w.Append("", []byte("x")); err == nil {
		t.Error("Expected error for empty kind")
	}
}

func TestEntryKeySurvivesReplay(t *testing.T) {
	w, err := NewInboxWAL(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer w.Close()

	// trailing zero nanoseconds must format the same way after parsing
	w.now = func() time.Time { return time.Date(2030, 3, 1, 12, 0, 0, 120000000, time.FixedZone("X", 3600)) }
	first, err := w.Append(KindTrip, []byte(`{"user_id":"a"}`))
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	second, err := w.Append(KindTrip, []byte(`{"user_id":"b"}`))
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if first.Key() == second.Key() {
		t.Error("entries with different bodies share a key")
	}

	entries, err := Replay(w.Path())
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key() != first.Key() || entries[1].Key() != second.Key() {
		t.Errorf("replayed keys differ:\n%s\n%s", entries[0].Key(), first.Key())
	}
}
