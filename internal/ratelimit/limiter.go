// Package ratelimit enforces per-identity sliding-window quotas backed by
// the shared cache, so limits hold across replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/metrics"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

// Action categories with limits tighter than the role quota.
const (
	CategoryPostCreate = "post_create"
	CategoryPostUpdate = "post_update"
	CategoryPostDelete = "post_delete"
	CategoryPostShare  = "post_share"
)

type window struct {
	limit  int
	period time.Duration
}

var categoryWindows = map[string]window{
	CategoryPostCreate: {10, time.Minute},
	CategoryPostUpdate: {20, time.Minute},
	CategoryPostDelete: {5, time.Minute},
	CategoryPostShare:  {15, time.Minute},
}

// slideScript trims expired entries, counts the window, and conditionally
// admits the new entry, all atomically.
var slideScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - period)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, period)
	return 1
end
return 0
`)

// Result reports a limiter decision and which scope tripped, if any.
type Result struct {
	Allowed bool
	Scope   string
}

// Limiter applies the role quota plus any category window. The cache path
// sits behind a circuit breaker; when the cache is unreachable the limiter
// fails open so a cache outage never takes chat down with it.
type Limiter struct {
	rdb     redis.Cmdable
	keys    *redisx.KeyBuilder
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
	clock   func() time.Time
}

func NewLimiter(rdb redis.Cmdable, log *zap.Logger) *Limiter {
	l := &Limiter{
		rdb:   rdb,
		keys:  redisx.NewKeyBuilder(redisx.Namespace, redisx.ContextRate),
		log:   log.With(zap.String("module", "ratelimit")),
		clock: time.Now,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-redis",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			l.log.Warn("limiter breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return l
}

// Allow checks the identity's role quota and, when category names a tighter
// window, that window too. Both must admit the event.
func (l *Limiter) Allow(ctx context.Context, id auth.Identity, category string) Result {
	roleScope := "user:" + id.ID
	if !l.admit(ctx, roleScope, auth.Quota(id.Role), time.Minute) {
		metrics.RateLimited.WithLabelValues("role").Inc()
		return Result{Allowed: false, Scope: roleScope}
	}
	if w, ok := categoryWindows[category]; ok {
		catScope := "user:" + id.ID + ":" + category
		if !l.admit(ctx, catScope, w.limit, w.period) {
			metrics.RateLimited.WithLabelValues(category).Inc()
			return Result{Allowed: false, Scope: catScope}
		}
	}
	return Result{Allowed: true}
}

func (l *Limiter) admit(ctx context.Context, scope string, limit int, period time.Duration) bool {
	res, err := l.breaker.Execute(func() (interface{}, error) {
		now := l.clock().UnixMilli()
		return slideScript.Run(ctx, l.rdb,
			[]string{l.keys.Build("window", scope)},
			now, period.Milliseconds(), limit, uuid.NewString(),
		).Int()
	})
	if err != nil {
		l.log.Warn("rate limit check failed, allowing",
			zap.String("scope", scope), zap.Error(err))
		return true
	}
	return res.(int) == 1
}
