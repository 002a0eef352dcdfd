package buffer

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "undelivered:"

// RedisBuffer is the production Buffer. Each recipient's queue is a
// redis list capped at maxLen entries, oldest dropped first.
type RedisBuffer struct {
	client *redis.Client
	maxLen int64
}

func NewRedisBuffer(addr string, maxLen int64) *RedisBuffer {
	return &RedisBuffer{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		maxLen: maxLen,
	}
}

// Ping verifies connectivity at startup.
func (b *RedisBuffer) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBuffer) Push(ctx context.Context, userID string, payload []byte) error {
	key := keyPrefix + userID

	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -b.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer push: %w", err)
	}
	return nil
}

func (b *RedisBuffer) Drain(ctx context.Context, userID string) ([][]byte, error) {
	key := keyPrefix + userID

	pipe := b.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("buffer drain: %w", err)
	}

	items := rangeCmd.Val()
	if len(items) == 0 {
		return nil, nil
	}
	payloads := make([][]byte, len(items))
	for i, item := range items {
		payloads[i] = []byte(item)
	}
	return payloads, nil
}

func (b *RedisBuffer) Close() error {
	return b.client.Close()
}
