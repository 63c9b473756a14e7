package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	if c.PerMinute <= 0 {
		c.PerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	return c
}

// Limiter decides whether one more request for key may pass.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type RateLimiter struct {
	limiter Limiter
	logger  zerolog.Logger
}

func NewRateLimiter(limiter Limiter, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{limiter: limiter, logger: logger}
}

// Middleware limits per client IP. Limiter errors let the request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := l.limiter.Allow(r.Context(), "ip:"+ip)
		if err != nil {
			l.logger.Warn().Err(err).Str("ip", ip).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type localLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter keeps one token bucket per key in process memory.
func NewLocalLimiter(cfg RateLimitConfig) Limiter {
	cfg = cfg.normalized()
	return &localLimiter{
		limit:    rate.Limit(float64(cfg.PerMinute) / 60.0),
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *localLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}

var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals)
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens }
`)

type redisLimiter struct {
	client   redis.Scripter
	prefix   string
	capacity int
	interval time.Duration
	ttl      time.Duration
}

// NewRedisLimiter shares token buckets between every process pointed at the
// same Redis. One token is refilled every minute/PerMinute.
func NewRedisLimiter(client redis.Scripter, cfg RateLimitConfig) Limiter {
	cfg = cfg.normalized()
	return &redisLimiter{
		client:   client,
		prefix:   "queue-service:ratelimit",
		capacity: cfg.Burst,
		interval: refillInterval(cfg.PerMinute),
		ttl:      2 * time.Minute,
	}
}

// refillInterval is the time between two refilled tokens, never below the
// script's millisecond resolution.
func refillInterval(perMinute int) time.Duration {
	interval := time.Minute / time.Duration(perMinute)
	if interval < time.Millisecond {
		return time.Millisecond
	}
	return interval
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	vals, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		time.Now().UnixMilli(),
		l.capacity,
		l.interval.Milliseconds(),
		int64(l.ttl/time.Second),
	).Int64Slice()
	if err != nil {
		return false, err
	}
	if len(vals) == 0 {
		return false, nil
	}
	return vals[0] == 1, nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
