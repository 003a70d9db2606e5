package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/circuitbreaker"
	"github.com/corterra/answerd/internal/merge"
)

const redisKeyPrefix = "ans:"

// redisOpTimeout bounds L2 lookups so a slow Redis never stalls the
// request path; the in-memory layer is authoritative.
const redisOpTimeout = 200 * time.Millisecond

// RedisLayer is an optional shared second-level answer cache. Values are
// JSON-encoded merge results; the breaker-wrapped client degrades to
// miss-only behavior when Redis is down.
type RedisLayer struct {
	cli    *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLayer(addr string, ttl time.Duration, logger *zap.Logger) (*RedisLayer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	rc := redis.NewClient(&redis.Options{Addr: addr})
	wrapper := circuitbreaker.NewRedisWrapper(rc, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisLayer{cli: wrapper, ttl: ttl, logger: logger}, nil
}

// Wrapper exposes the underlying circuit-breaker client for health checks.
func (r *RedisLayer) Wrapper() *circuitbreaker.RedisWrapper { return r.cli }

func (r *RedisLayer) get(fingerprint string) (merge.Result, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	b, err := r.cli.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		return merge.Result{}, false
	}
	var result merge.Result
	if err := json.Unmarshal(b, &result); err != nil {
		r.logger.Warn("discarding malformed cached answer", zap.Error(err))
		return merge.Result{}, false
	}
	return result, true
}

func (r *RedisLayer) set(fingerprint string, result merge.Result) {
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.cli.Set(ctx, redisKeyPrefix+fingerprint, b, r.ttl).Err(); err != nil {
		r.logger.Debug("answer cache L2 write failed", zap.Error(err))
	}
}
