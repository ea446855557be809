package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "quote:"

// Compile-time check to ensure RedisStore implements SnapshotStore
var _ SnapshotStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    time.Hour, // TTL prevents unbounded memory growth
	}
}

// Save stores the latest raw payload for a symbol (last write wins).
func (r *RedisStore) Save(ctx context.Context, symbol string, payload []byte) error {
	return r.client.Set(ctx, keyPrefix+symbol, payload, r.ttl).Err()
}

// Latest fetches the most recent payload for each symbol (MGET). Symbols
// with no stored snapshot are skipped.
func (r *RedisStore) Latest(ctx context.Context, symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots [][]byte
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, []byte(payload))
		}
	}
	return snapshots, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
