package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
)

// FileStore writes <dir>/<user>.model.json and <dir>/<user>.meta.json. The
// two suffixes differ in their last segment, so no user id can name another
// user's file.
// Writes go through a temp file and rename so readers never see a partial
// model.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create models dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) modelPath(userID string) string {
	return filepath.Join(f.dir, url.PathEscape(userID)+".model.json")
}

func (f *FileStore) metaPath(userID string) string {
	return filepath.Join(f.dir, url.PathEscape(userID)+".meta.json")
}

func (f *FileStore) SaveModel(ctx context.Context, userID string, model *forest.Regressor) error {
	data, err := encodeModel(model)
	if err != nil {
		return err
	}
	return writeAtomic(f.modelPath(userID), data)
}

func (f *FileStore) LoadModel(ctx context.Context, userID string) (*forest.Regressor, error) {
	data, err := os.ReadFile(f.modelPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return decodeModel(data)
}

func (f *FileStore) ModelVersion(ctx context.Context, userID string) (string, error) {
	file, err := os.Open(f.modelPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to open model: %w", err)
	}
	prefix := make([]byte, versionPrefixLen)
	n, err := io.ReadFull(file, prefix)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		return "", fmt.Errorf("failed to close model: %w", closeErr)
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read model: %w", err)
	}
	return envelopeVersion(prefix[:n])
}

func (f *FileStore) SaveMetadata(ctx context.Context, userID string, meta api.ModelMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeAtomic(f.metaPath(userID), data)
}

func (f *FileStore) LoadMetadata(ctx context.Context, userID string) (*api.ModelMetadata, error) {
	data, err := os.ReadFile(f.metaPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return decodeMetadata(data)
}

func (f *FileStore) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}
