package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho(mw echo.MiddlewareFunc, status *int) *echo.Echo {
	e := echo.New()
	e.POST("/login", func(c echo.Context) error {
		if *status >= http.StatusBadRequest {
			return echo.NewHTTPError(*status, "nope")
		}
		return c.NoContent(*status)
	}, mw)
	return e
}

func hit(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":4242"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLimiter_BlocksAfterLimit(t *testing.T) {
	mr, rdb := newRedis(t)
	status := http.StatusUnauthorized
	rule := Rule{Name: "auth", Limit: 3, Window: time.Minute, Message: "slow down"}
	e := newEcho(New(rdb, "test:", true).Middleware(rule), &status)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
	}
	rec := hit(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "slow down")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other clients have their own window
	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.2").Code)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
}

func TestRedisLimiter_SkipSuccessful(t *testing.T) {
	mr, rdb := newRedis(t)
	status := http.StatusOK
	rule := Rule{Name: "auth", Limit: 2, Window: time.Minute, SkipSuccessful: true, Message: "slow down"}
	e := newEcho(New(rdb, "test:", true).Middleware(rule), &status)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	}
	v, err := mr.Get("test:ratelimit:auth:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	status = http.StatusUnauthorized
	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(e, "10.0.0.1").Code)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	status := http.StatusOK
	rule := Rule{Name: "auth", Limit: 1, Window: time.Minute, Message: "slow down"}
	e := newEcho(New(rdb, "test:", true).Middleware(rule), &status)

	mr.Close()
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	}
}

func TestMemoryLimiter(t *testing.T) {
	t.Parallel()

	status := http.StatusUnauthorized
	rule := Rule{Name: "refresh", Limit: 2, Window: 15 * time.Minute, Message: "slow down"}
	e := newEcho(New(nil, "", true).Middleware(rule), &status)

	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.9").Code)
}

func TestDisabledLimiter(t *testing.T) {
	t.Parallel()

	status := http.StatusUnauthorized
	e := newEcho(New(nil, "", false).Middleware(Rule{Name: "auth", Limit: 1, Window: time.Minute}), &status)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, hit(e, "10.0.0.1").Code)
	}
}
