package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"SignalLab/internal/service/marketdata"
	"SignalLab/internal/service/ratelimit"
	"SignalLab/pkg/cache"
	"SignalLab/pkg/http/middleware"
	"SignalLab/pkg/logger"
)

func TestPriceRateLimitedPerUser(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := ratelimit.NewWithClock(func() time.Time { return now })
	store := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = store.Close() })

	asUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.UserIDKey, c.Request().Header.Get("X-User"))
			return next(c)
		}
	}
	h := NewDataHandler(marketdata.NewCache(&stubUpstream{}, store), nil, asUser, limiter,
		RateBudget{Burst: 1, PerSec: 0.25}, logger.Nop())
	e := echo.New()
	h.RegisterRoutes(e)

	get := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/data/price?symbol=AAPL", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("u1").Code)
	rec := get("u1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, get("u2").Code)

	now = now.Add(4 * time.Second)
	assert.Equal(t, http.StatusOK, get("u1").Code)
}
