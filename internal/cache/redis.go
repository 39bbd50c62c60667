package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crxlens/crxlens/internal/analysis"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
)

const redisKeyPrefix = "crxlens:analysis:"

// RedisCache stores entries in Redis for deployments where the analysis
// service runs on more than one host. SET replaces the whole value, so the
// per-key atomicity contract holds without extra coordination.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis at url (redis://host:port form).
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get returns the cached result for key, or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key Key) (*analysis.Result, error) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sharedErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Result == nil {
		return nil, sharedErrors.ErrCacheMiss
	}
	return entry.Result, nil
}

// Put upserts the result for key, fully replacing any prior record.
func (c *RedisCache) Put(ctx context.Context, key Key, result *analysis.Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	entry := Entry{
		ExtensionID: key.ExtensionID,
		Store:       key.Store.String(),
		Result:      result,
		LastUpdated: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func redisKey(key Key) string {
	return redisKeyPrefix + key.Store.String() + ":" + key.ExtensionID
}
