package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisCache is a TTL-bounded hot tier in front of the MBTiles store.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// Prefix namespaces keys, e.g. by tileset name.
	Prefix string
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %w", ErrStoreOpen, err)
	}

	return newRedisCache(client, cfg), nil
}

func newRedisCache(client *redis.Client, cfg RedisConfig) *RedisCache {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tile"
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}
}

var _ TileCache = (*RedisCache)(nil)

func (c *RedisCache) keyFor(addr tile.Address) string {
	return fmt.Sprintf("%s:%d:%d:%d", c.prefix, addr.Zoom, addr.Column, addr.Row)
}

func (c *RedisCache) Get(ctx context.Context, addr tile.Address) ([]byte, bool, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.keyFor(addr)).Bytes()
	metrics.RedisOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		metrics.RedisErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("%w: redis get: %w", ErrQuery, err)
	}

	return data, true, nil
}

func (c *RedisCache) Put(ctx context.Context, addr tile.Address, data []byte) error {
	start := time.Now()
	err := c.client.Set(ctx, c.keyFor(addr), data, c.ttl).Err()
	metrics.RedisOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RedisErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("%w: redis set: %w", ErrQuery, err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
