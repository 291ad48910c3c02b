package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
)

const defaultKeyPrefix = "rebase:bridge:processed:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisDeduper shares processed message IDs between ledger processes.
type RedisDeduper struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDeduper connects and pings Redis.
func NewRedisDeduper(ctx context.Context, cfg RedisConfig) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisDeduperWithClient(client, cfg.KeyPrefix), nil
}

func NewRedisDeduperWithClient(client *redis.Client, keyPrefix string) *RedisDeduper {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisDeduper{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed uses SETNX so concurrent receivers agree on a single winner.
// A zero ttl keeps the mark forever.
func (d *RedisDeduper) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(id), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message %s as processed: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", id, err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to release message %s: %w", id, err)
	}
	return nil
}

func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

func (d *RedisDeduper) key(id string) string {
	return d.keyPrefix + id
}

var _ interfaces.MessageDeduper = (*RedisDeduper)(nil)
