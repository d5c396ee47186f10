package modelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/forest"
)

// RedisStore keeps models under ecopulse:model:<user> and metadata under
// ecopulse:meta:<user>, without expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func modelKey(userID string) string { return fmt.Sprintf("ecopulse:model:%s", userID) }
func metaKey(userID string) string  { return fmt.Sprintf("ecopulse:meta:%s", userID) }

func (r *RedisStore) SaveModel(ctx context.Context, userID string, model *forest.Regressor) error {
	data, err := encodeModel(model)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, modelKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadModel(ctx context.Context, userID string) (*forest.Regressor, error) {
	data, err := r.client.Get(ctx, modelKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return decodeModel(data)
}

func (r *RedisStore) ModelVersion(ctx context.Context, userID string) (string, error) {
	prefix, err := r.client.GetRange(ctx, modelKey(userID), 0, int64(versionPrefixLen-1)).Bytes()
	if err != nil {
		return "", fmt.Errorf("redis GETRANGE failed: %w", err)
	}
	// GETRANGE answers a missing key with an empty string
	if len(prefix) == 0 {
		return "", ErrNotFound
	}
	return envelopeVersion(prefix)
}

func (r *RedisStore) SaveMetadata(ctx context.Context, userID string, meta api.ModelMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := r.client.Set(ctx, metaKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadMetadata(ctx context.Context, userID string) (*api.ModelMetadata, error) {
	data, err := r.client.Get(ctx, metaKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return decodeMetadata(data)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
