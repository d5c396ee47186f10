package wal

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record kinds written by the ingestion endpoints.
const (
	KindTrip = "trip"
	KindBill = "bill"
)

// InboxWAL is an append-only log of accepted ingestion payloads. One file is
// kept per UTC day; every append is fsynced before it returns.
type InboxWAL struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	now  func() time.Time
}

// Entry represents a single WAL entry
type Entry struct {
	Timestamp time.Time
	Kind      string
	Body      []byte
}

// Key identifies the entry across replays: its timestamp, kind and the
// SHA-256 of its body.
func (e Entry) Key() string {
	sum := sha256.Sum256(e.Body)
	return e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.Kind + "|" + hex.EncodeToString(sum[:])
}

// NewInboxWAL creates dirPath if needed and opens today's WAL file.
func NewInboxWAL(dirPath string) (*InboxWAL, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &InboxWAL{dir: dirPath, now: time.Now}
	if err := w.openFor(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

// FileName returns the WAL file name for the UTC day containing t.
func FileName(t time.Time) string {
	return fmt.Sprintf("inbox-%s.wal", t.UTC().Format("20060102"))
}

func (w *InboxWAL) openFor(t time.Time) error {
	day := t.UTC().Format("20060102")
	file, err := os.OpenFile(filepath.Join(w.dir, FileName(t)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file
	w.day = day
	return nil
}

// Path returns the file currently being appended to.
func (w *InboxWAL) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Name()
}

// Append writes one entry as "timestamp|kind|base64(body)" and fsyncs.
// The file rotates when the UTC day changes. It returns the entry as Replay
// will read it back.
func (w *InboxWAL) Append(kind string, body []byte) (Entry, error) {
	if kind == "" || strings.Contains(kind, "|") {
		return Entry{}, fmt.Errorf("invalid WAL entry kind %q", kind)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if now.Format("20060102") != w.day {
		if err := w.file.Close(); err != nil {
			return Entry{}, fmt.Errorf("failed to close WAL file: %w", err)
		}
		if err := w.openFor(now); err != nil {
			return Entry{}, err
		}
	}

	line := fmt.Sprintf("%s|%s|%s\n",
		now.Format(time.RFC3339Nano), kind, base64.StdEncoding.EncodeToString(body))

	if _, err := w.file.WriteString(line); err != nil {
		return Entry{}, fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("failed to sync WAL: %w", err)
	}

	return Entry{Timestamp: now, Kind: kind, Body: body}, nil
}

// Close flushes and closes the WAL
func (w *InboxWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Replay reads all entries from a WAL file. Malformed lines are skipped and
// a missing file yields no entries.
func Replay(walPath string) ([]Entry, error) {
	file, err := os.Open(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "|", 3)
		if len(parts) != 3 {
			continue
		}

		timestamp, err := time.Parse(time.RFC3339Nano, parts[0])
		if err != nil {
			continue
		}
		body, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			continue
		}

		entries = append(entries, Entry{
			Timestamp: timestamp,
			Kind:      parts[1],
			Body:      body,
		})
	}

	return entries, scanner.Err()
}
