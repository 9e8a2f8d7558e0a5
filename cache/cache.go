// Package cache - Optional Redis cache of predictions keyed by the uploaded bytes and the
// model variant that produced them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-bodymeasure/images"
	"github.com/nvr-ai/go-bodymeasure/inference"
)

// Store abstracts the Redis operations used by the cache to make testing easier.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisStore is a Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Set writes a value to Redis.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from Redis. A missing key returns redis.Nil.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

// Dial connects to Redis at addr and pings it.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// PredictionCache stores predictions. Cache failures are logged and never fail a request.
type PredictionCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewPredictionCache creates a cache writing entries with the given ttl.
func NewPredictionCache(store Store, ttl time.Duration, logger *zap.Logger) *PredictionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictionCache{store: store, ttl: ttl, logger: logger.Named("prediction_cache")}
}

// Key identifies a prediction by model variant, input mode and the exact uploaded bytes.
func Key(model string, alreadyMasks bool, front, side []byte) string {
	mode := "photo"
	if alreadyMasks {
		mode = "mask"
	}
	return fmt.Sprintf("prediction:%s:%s:%s", model, mode, images.Fingerprint(front, side))
}

// Get returns the cached prediction under key.
//
// Returns:
//   - *inference.Prediction: The cached prediction.
//   - bool: False on a miss or any cache failure.
func (c *PredictionCache) Get(ctx context.Context, key string) (*inference.Prediction, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var pred inference.Prediction
	if err := json.Unmarshal([]byte(raw), &pred); err != nil {
		c.logger.Warn("failed to decode cached prediction", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &pred, true
}

// Put stores pred under key.
func (c *PredictionCache) Put(ctx context.Context, key string, pred *inference.Prediction) {
	serialized, err := json.Marshal(pred)
	if err != nil {
		c.logger.Warn("failed to serialize prediction", zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, string(serialized), c.ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
