package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/metrics"
)

// RATE LIMITING:
// Only the unauthenticated /auth routes are limited. Each client IP gets
// RequestsPerMinute requests plus a Burst allowance.
//
// Two backends share one interface:
//
//	MemoryLimiter  token bucket per IP, process-local (default)
//	RedisLimiter   fixed one-minute window per IP, shared by every replica
//
// A backend error lets the request through.

// RateLimitConfig sets the per-client allowance.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter decides whether the client identified by key may proceed.
// retryAfter is only meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// ===== IN-MEMORY =====

// idleSweepInterval is how often idle buckets are dropped.
const idleSweepInterval = 5 * time.Minute

// MemoryLimiter keeps one token bucket per key.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	limiters sync.Map // map[string]*rate.Limiter

	mu        sync.Mutex
	lastSweep time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	cfg = cfg.withDefaults()
	return &MemoryLimiter{
		limit:     rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l := m.get(key)

	r := l.Reserve()
	if !r.OK() {
		return false, time.Minute, nil
	}
	if d := r.Delay(); d > 0 {
		// Not allowed now: give the token back and report when it would be.
		r.Cancel()
		return false, d, nil
	}
	return true, 0, nil
}

func (m *MemoryLimiter) get(key string) *rate.Limiter {
	if l, ok := m.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := m.limiters.LoadOrStore(key, rate.NewLimiter(m.limit, m.burst))
	m.maybeSweep()
	return l.(*rate.Limiter)
}

// maybeSweep drops buckets that have refilled completely; their clients
// have been idle long enough that a fresh bucket is equivalent.
func (m *MemoryLimiter) maybeSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastSweep) < idleSweepInterval {
		return
	}
	m.lastSweep = time.Now()

	m.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(m.burst) {
			m.limiters.Delete(key)
		}
		return true
	})
}

// ===== REDIS =====

const redisWindow = time.Minute

// RedisLimiter counts requests per key in a fixed one-minute window.
// A client is rejected once the count exceeds RequestsPerMinute + Burst.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int64
	prefix string
}

func NewRedisLimiter(client redis.Cmdable, cfg RateLimitConfig) *RedisLimiter {
	cfg = cfg.withDefaults()
	return &RedisLimiter{
		client: client,
		limit:  int64(cfg.RequestsPerMinute + cfg.Burst),
		prefix: "dao:ratelimit:",
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + key

	// INCR then EXPIRE NX in one round trip: the first request of a window
	// starts the clock, later ones leave it alone.
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, redisWindow)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("middleware: redis rate limit: %w", err)
	}

	if incr.Val() <= l.limit {
		return true, 0, nil
	}
	retry := ttl.Val()
	if retry <= 0 {
		retry = redisWindow
	}
	return false, retry, nil
}

// ===== MIDDLEWARE =====

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 20
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// RateLimit rejects clients that exceed limiter's allowance with 429.
// Clients are keyed by RemoteAddr's host, which RealIP only rewrites for
// trusted proxies. name labels the rejection metric.
func RateLimit(name string, limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)

			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := max(int(retryAfter.Round(time.Second)/time.Second), 1)
			metrics.RateLimitedTotal.WithLabelValues(name).Inc()
			logger.Warn("rate limit exceeded",
				slog.String("client", key),
				slog.String("path", r.URL.Path),
				slog.Int("retryAfter", secs),
			)

			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": apperror.RateLimited().Message})
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
