// Package dedupcache wraps a Redis client with the narrow operation the
// fetcher handler needs: remember which upstream item ids have already been
// synchronized, so a periodic fetch never re-emits the same item twice
// within the TTL window.
package dedupcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis-level failure the cache could not recover
// from. The fetcher handler treats it from Seen as "dedup state unknown" and
// keeps going; from MarkSeen it fails the fetch.
var ErrUnavailable = errors.New("dedup cache unavailable")

// Config configures a Cache.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration // defaults to 24h
}

// Cache records which ids have already been seen.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	return &Cache{client: client, keyPrefix: cfg.KeyPrefix, ttl: ttl}, nil
}

func (c *Cache) key(id string) string {
	return c.keyPrefix + "fetched:" + id
}

// Seen reports whether id has already been recorded.
func (c *Cache) Seen(ctx context.Context, id string) (bool, error) {
	_, err := c.client.Get(ctx, c.key(id)).Result()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, errors.Join(ErrUnavailable, err)
}

// MarkSeen records id so future Seen calls return true until the TTL
// expires.
func (c *Cache) MarkSeen(ctx context.Context, id string) error {
	if err := c.client.Set(ctx, c.key(id), "1", c.ttl).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
