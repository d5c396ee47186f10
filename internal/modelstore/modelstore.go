// Package modelstore persists each user's fitted forest and its metadata.
//
// Every backend is last-write-wins per user. Models are stored as a JSON
// envelope carrying a SHA-256 of the encoded forest, checked on load. The
// checksum leads the envelope, so backends can report a model's version by
// reading a short prefix instead of the whole forest.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
)

var (
	// ErrNotFound is returned by LoadModel when the user has no model.
	ErrNotFound = errors.New("modelstore: model not found")
	// ErrCorrupt is returned when a stored model fails its checksum.
	ErrCorrupt = errors.New("modelstore: model checksum mismatch")
)

// Store persists models and metadata keyed by user id.
type Store interface {
	SaveModel(ctx context.Context, userID string, model *forest.Regressor) error
	LoadModel(ctx context.Context, userID string) (*forest.Regressor, error)
	SaveMetadata(ctx context.Context, userID string, meta api.ModelMetadata) error
	// LoadMetadata returns nil, nil when no metadata was stored.
	LoadMetadata(ctx context.Context, userID string) (*api.ModelMetadata, error)
	// ModelVersion returns the checksum of the stored model, or ErrNotFound.
	ModelVersion(ctx context.Context, userID string) (string, error)
	Close() error
}

type envelope struct {
	Checksum string          `json:"checksum"`
	Model    json.RawMessage `json:"model"`
}

const envelopeHead = `{"checksum":"`

// versionPrefixLen covers the envelope head, the hex checksum and its
// closing quote.
const versionPrefixLen = len(envelopeHead) + 2*sha256.Size + 1

func checksum(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

func encodeModel(model *forest.Regressor) ([]byte, error) {
	body, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize model: %w", err)
	}
	return json.Marshal(envelope{Checksum: checksum(body), Model: body})
}

// modelVersion is the checksum encodeModel would store for model.
func modelVersion(model *forest.Regressor) (string, error) {
	body, err := json.Marshal(model)
	if err != nil {
		return "", fmt.Errorf("failed to serialize model: %w", err)
	}
	return checksum(body), nil
}

// envelopeVersion reads the checksum from the first versionPrefixLen bytes
// of an encoded envelope.
func envelopeVersion(prefix []byte) (string, error) {
	if len(prefix) < versionPrefixLen ||
		string(prefix[:len(envelopeHead)]) != envelopeHead ||
		prefix[versionPrefixLen-1] != '"' {
		return "", fmt.Errorf("%w: unreadable envelope header", ErrCorrupt)
	}
	return string(prefix[len(envelopeHead) : versionPrefixLen-1]), nil
}

func decodeModel(data []byte) (*forest.Regressor, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode model envelope: %w", err)
	}
	if checksum(env.Model) != env.Checksum {
		return nil, ErrCorrupt
	}

	var model forest.Regressor
	if err := json.Unmarshal(env.Model, &model); err != nil {
		return nil, fmt.Errorf("failed to deserialize model: %w", err)
	}
	return &model, nil
}

func decodeMetadata(data []byte) (*api.ModelMetadata, error) {
	var meta api.ModelMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// MemoryStore keeps encoded models in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string][]byte
	meta   map[string][]byte
}

// NewMemoryStore creates an empty in-memory model store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models: make(map[string][]byte),
		meta:   make(map[string][]byte),
	}
}

func (m *MemoryStore) SaveModel(ctx context.Context, userID string, model *forest.Regressor) error {
	data, err := encodeModel(model)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.models[userID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadModel(ctx context.Context, userID string) (*forest.Regressor, error) {
	m.mu.RLock()
	data, ok := m.models[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeModel(data)
}

func (m *MemoryStore) ModelVersion(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	data, ok := m.models[userID]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return envelopeVersion(data)
}

func (m *MemoryStore) SaveMetadata(ctx context.Context, userID string, meta api.ModelMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	m.mu.Lock()
	m.meta[userID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadMetadata(ctx context.Context, userID string) (*api.ModelMetadata, error) {
	m.mu.RLock()
	data, ok := m.meta[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeMetadata(data)
}

func (m *MemoryStore) Close() error {
	return nil
}
