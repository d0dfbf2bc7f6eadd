package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedReplay is the JSON form stored in Redis, mirroring the subset of
// Reservation fields needed to serve a replay without touching sqlite.
type cachedReplay struct {
	RequestHash string              `json:"request_hash"`
	StatusCode  int                 `json:"status_code"`
	ContentType string              `json:"content_type"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body"`
}

// RedisCache is an optional secondary cache in front of the sqlite
// reservation store, serving hot replay lookups without a round trip to
// the single-writer database.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache dials addr; the connection is lazy, matching go-redis's
// usual client construction.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

func cacheKey(tenantID, actor, method, path, idemKey string) string {
	return "aicp:idempotency:" + tenantID + "|" + actor + "|" + method + "|" + path + "|" + idemKey
}

// get returns the cached replay for the slot, if present.
func (r *RedisCache) get(ctx context.Context, tenantID, actor, method, path, idemKey string) (*cachedReplay, bool, error) {
	raw, err := r.client.Get(ctx, cacheKey(tenantID, actor, method, path, idemKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var cached cachedReplay
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false, err
	}
	return &cached, true, nil
}

// set stores the committed response, best-effort.
func (r *RedisCache) set(ctx context.Context, tenantID, actor, method, path, idemKey string, cached cachedReplay) error {
	raw, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, cacheKey(tenantID, actor, method, path, idemKey), raw, r.ttl).Err()
}

// Close releases the underlying redis connection pool.
func (r *RedisCache) Close() error { return r.client.Close() }
