// Package ratelimit enforces per-client request budgets, counted per minute.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrUnavailable wraps backend failures. Callers decide whether to fail open.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis is a fixed-window counter shared by every instance behind the same Redis.
type Redis struct {
	client redis.UniversalClient
	scope  string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis allows perMinute requests per key per minute. scope separates independent budgets
// (auth, api) that share one Redis.
func NewRedis(client redis.UniversalClient, scope string, perMinute int) *Redis {
	return &Redis{client: client, scope: scope, limit: perMinute, window: time.Minute, now: time.Now}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	bucket := l.now().UTC().Truncate(l.window).Unix()
	k := "rl:" + l.scope + ":" + key + ":" + strconv.FormatInt(bucket, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// Local is an in-process token bucket per key, for single-instance deployments and as the
// fallback when Redis is not configured.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocal allows perMinute requests per key per minute with a burst of the same size.
func NewLocal(perMinute int) *Local {
	l := &Local{
		buckets: make(map[string]*bucket),
		limit:   rate.Inf,
		burst:   perMinute,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return l
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}

// Sweep drops buckets idle for longer than the TTL. Run it periodically.
func (l *Local) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *Local) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
