package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared feed cache.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Redis is a FeedCache shared between server instances. Errors are logged
// and treated as misses so the feed is rendered fresh.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis wraps client. A non-positive ttl uses DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, prefix: "calendar:feed:"}
}

// Get returns a cached feed.
func (r *Redis) Get(ctx context.Context, propertyID string) ([]byte, bool) {
	feed, err := r.client.Get(ctx, r.prefix+propertyID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("Feed cache read failed for property %s: %v", propertyID, err)
		return nil, false
	}
	return feed, true
}

// Set stores a feed with the configured TTL.
func (r *Redis) Set(ctx context.Context, propertyID string, feed []byte) {
	if err := r.client.Set(ctx, r.prefix+propertyID, feed, r.ttl).Err(); err != nil {
		log.Printf("Feed cache write failed for property %s: %v", propertyID, err)
	}
}

// Invalidate drops the cached feed of a property.
func (r *Redis) Invalidate(ctx context.Context, propertyID string) {
	if err := r.client.Del(ctx, r.prefix+propertyID).Err(); err != nil {
		log.Printf("Feed cache invalidation failed for property %s: %v", propertyID, err)
	}
}
