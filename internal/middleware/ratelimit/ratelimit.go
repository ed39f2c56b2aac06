// Package ratelimit counts attempts per client IP in fixed windows. Counters
// live in redis when a client is configured so every replica shares them;
// otherwise echo's in-memory limiter is used.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Skotchmaster/taskhub/internal/logging"
)

type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	// SkipSuccessful stops 2xx/3xx responses from counting against the
	// limit. Only the redis backend honours it.
	SkipSuccessful bool
	Message        string
}

var (
	AuthRule = Rule{
		Name:           "auth",
		Limit:          5,
		Window:         15 * time.Minute,
		SkipSuccessful: true,
		Message:        "Too many login attempts. Please try again in 15 minutes.",
	}
	RefreshRule = Rule{
		Name:    "refresh",
		Limit:   30,
		Window:  15 * time.Minute,
		Message: "Too many refresh attempts. Please try again later.",
	}
)

var hitLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {n, ttl}
`)

type Limiter struct {
	rdb     redis.UniversalClient
	prefix  string
	enabled bool
}

// New returns a limiter. A nil rdb selects the in-memory backend.
func New(rdb redis.UniversalClient, prefix string, enabled bool) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, enabled: enabled}
}

func (l *Limiter) Middleware(r Rule) echo.MiddlewareFunc {
	if !l.enabled || r.Limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if l.rdb == nil {
		return memory(r)
	}
	return l.redis(r)
}

func (l *Limiter) redis(r Rule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := l.prefix + "ratelimit:" + r.Name + ":" + clientIP(c)

			res, err := hitLua.Run(ctx, l.rdb, []string{key}, r.Window.Milliseconds()).Int64Slice()
			if err != nil || len(res) != 2 {
				logging.FromContext(ctx).Warn("rate_limit_unavailable", "rule", r.Name, "err", err)
				return next(c)
			}
			count, ttl := res[0], res[1]

			h := c.Response().Header()
			h.Set("RateLimit-Limit", strconv.Itoa(r.Limit))
			h.Set("RateLimit-Remaining", strconv.FormatInt(max(int64(r.Limit)-count, 0), 10))
			h.Set("RateLimit-Reset", strconv.Itoa(seconds(ttl)))

			if count > int64(r.Limit) {
				h.Set("Retry-After", strconv.Itoa(seconds(ttl)))
				return echo.NewHTTPError(http.StatusTooManyRequests, r.Message)
			}

			err = next(c)
			if r.SkipSuccessful && err == nil && c.Response().Status < http.StatusBadRequest {
				if derr := l.rdb.Decr(context.WithoutCancel(ctx), key).Err(); derr != nil {
					logging.FromContext(ctx).Warn("rate_limit_refund_failed", "rule", r.Name, "err", derr)
				}
			}
			return err
		}
	}
}

func memory(r Rule) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(r.Limit) / r.Window.Seconds()),
		Burst:     r.Limit,
		ExpiresIn: r.Window,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return r.Name + ":" + clientIP(c), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "rate limit identifier missing")
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, r.Message)
		},
	})
}

func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func seconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000))
}
