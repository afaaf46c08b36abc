package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/wfunc/tetrisserver/config"
	"github.com/wfunc/tetrisserver/logger"
)

// Limiter decides whether the holder of key may perform one more action.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	// Forget drops any state kept for key.
	Forget(key string)
}

// LocalLimiter is an in-process token bucket per key.
type LocalLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiter allows perSecond actions per key with the given burst.
// A non-positive rate disables limiting.
func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &LocalLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

func (l *LocalLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// RedisLimiter is a fixed-window counter shared across server instances.
// Keys are rl:<window seconds>:<key>. Redis errors allow the action. A
// non-positive max disables limiting.
type RedisLimiter struct {
	client *redis.Client
	max    int64
	window time.Duration
}

// NewRedisLimiter connects to addr and verifies it with PING.
func NewRedisLimiter(addr, password string, db int, maxActions int, window time.Duration) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newRedisLimiter(client, maxActions, window), nil
}

func newRedisLimiter(client *redis.Client, maxActions int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: int64(maxActions), window: window}
}

func (l *RedisLimiter) key(key string) string {
	return "rl:" + strconv.FormatInt(int64(l.window.Seconds()), 10) + ":" + key
}

// Allow creates the window key together with its TTL and increments it in
// one MULTI, so a counter can never outlive its window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if l.max <= 0 {
		return true
	}
	k := l.key(key)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		logger.Log.Debugf("ratelimit: redis window %s: %v", k, err)
		return true
	}
	return incr.Val() <= l.max
}

func (l *RedisLimiter) Forget(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l.client.Del(ctx, l.key(key))
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// New returns a RedisLimiter when cfg names a reachable Redis, otherwise a
// LocalLimiter.
func New(cfg config.RateLimitConfig) Limiter {
	if cfg.Redis.Addr != "" {
		perWindow := 0
		if cfg.ActionsPerSecond > 0 {
			perWindow = int(math.Ceil(cfg.ActionsPerSecond)) + cfg.Burst
		}
		l, err := NewRedisLimiter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, perWindow, time.Second)
		if err == nil {
			logger.Log.Infof("ratelimit: using redis at %s", cfg.Redis.Addr)
			return l
		}
		logger.Log.Warnf("ratelimit: redis %s unavailable, using local limiter: %v", cfg.Redis.Addr, err)
	}
	return NewLocalLimiter(cfg.ActionsPerSecond, cfg.Burst)
}
