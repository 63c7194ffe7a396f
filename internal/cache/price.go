package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// PriceCache stores recently fetched prices keyed by provider and asset.
type PriceCache interface {
	Get(ctx context.Context, key string) (float64, bool)
	Set(ctx context.Context, key string, price float64)
	// Purge drops expired entries where the backend needs it.
	Purge() int
}

// Memory is a process-local PriceCache.
type Memory struct {
	ttl *TTL[string, float64]
}

// NewMemory creates a PriceCache keeping prices for ttl.
func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	return &Memory{ttl: NewTTL[string, float64](ttl, now)}
}

func (m *Memory) Get(_ context.Context, key string) (float64, bool) {
	return m.ttl.Get(key)
}

func (m *Memory) Set(_ context.Context, key string, price float64) {
	m.ttl.Set(key, price)
}

func (m *Memory) Purge() int { return m.ttl.Purge() }

// redisPrice is the msgpack payload stored per key.
type redisPrice struct {
	Price     float64 `msgpack:"p"`
	FetchedAt int64   `msgpack:"t"`
}

// Redis is a PriceCache shared between processes. Expiry is left to Redis.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedis creates a Redis-backed PriceCache.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) (float64, bool) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		r.log.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	var p redisPrice
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		r.log.Warn("price cache entry undecodable", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return p.Price, true
}

func (r *Redis) Set(ctx context.Context, key string, price float64) {
	raw, err := msgpack.Marshal(redisPrice{Price: price, FetchedAt: time.Now().Unix()})
	if err != nil {
		r.log.Warn("price cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.rdb.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		r.log.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Purge() int { return 0 }
