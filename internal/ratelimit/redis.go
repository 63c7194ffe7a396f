package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis shares one provider quota between every process that uses the same
// key. Redis errors deny the request.
type Redis struct {
	limiter *redis_rate.Limiter
	key     string
	limit   redis_rate.Limit
	poll    time.Duration
	timeout time.Duration
	log     *zap.Logger
}

// KeyPrefix namespaces limiter keys in Redis.
const KeyPrefix = "alertsentinel:ratelimit:"

// NewRedis creates a limiter allowing perMinute requests for the named
// provider, stored under KeyPrefix+name.
func NewRedis(rdb *redis.Client, name string, perMinute int, log *zap.Logger) *Redis {
	return &Redis{
		limiter: redis_rate.NewLimiter(rdb),
		key:     KeyPrefix + name,
		limit:   redis_rate.PerMinute(perMinute),
		poll:    DefaultPollInterval,
		timeout: 2 * time.Second,
		log:     log.With(zap.String("limiter", name)),
	}
}

func (r *Redis) TryAcquire() bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ok, _ := r.allow(ctx)
	return ok
}

func (r *Redis) AcquireWithTimeout(ctx context.Context, maxWait time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	for {
		ok, retryAfter := r.allow(ctx)
		if ok {
			return true
		}
		if retryAfter <= 0 || retryAfter > maxWait {
			retryAfter = r.poll
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryAfter):
		}
	}
}

func (r *Redis) allow(ctx context.Context) (bool, time.Duration) {
	res, err := r.limiter.Allow(ctx, r.key, r.limit)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("redis rate limiter unavailable, denying request", zap.Error(err))
		}
		return false, 0
	}
	return res.Allowed > 0, res.RetryAfter
}
