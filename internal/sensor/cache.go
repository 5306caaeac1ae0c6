package sensor

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// #region redis-cache

// RedisCache is an optional embedding cache keyed by content fingerprint.
// Grounded on the teacher pack's session.RedisStore (chromemonkeys-chronicle),
// but every failure mode here degrades silently instead of returning an
// error: a cache is a latency optimization, never a correctness dependency,
// and the spec requires the Sensor to be deterministic given the same
// inputs and constitution snapshot regardless of whether Redis is up.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache dials redisURL and pings it once so misconfiguration is
// visible at startup; a Sensor built without a cache (nil) still functions.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisCache{client: client, prefix: "sensor:embed:", ttl: ttl}, nil
}

// Get returns (embedding, true) on a hit. Any Redis error, including the
// backend going away mid-run, is treated identically to a miss.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.prefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[SENSOR] cache get degraded, treating as miss: %v", err)
		}
		return nil, false
	}
	var embedding []float32
	if err := json.Unmarshal(raw, &embedding); err != nil {
		log.Printf("[SENSOR] cache entry corrupt, treating as miss: %v", err)
		return nil, false
	}
	return embedding, true
}

// Set stores an embedding. A write failure is logged, not propagated —
// callers already have the embedding in hand and don't need the cache to
// succeed.
func (c *RedisCache) Set(ctx context.Context, fingerprint string, embedding []float32) {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+fingerprint, raw, c.ttl).Err(); err != nil {
		log.Printf("[SENSOR] cache set degraded, continuing without it: %v", err)
	}
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// #endregion redis-cache
