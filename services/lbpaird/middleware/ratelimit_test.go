package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, req *http.Request) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	handler := limiter.Middleware("swap")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/pairs/A/swap", nil)
	require.Equal(t, http.StatusOK, serve(handler, req))
	require.Equal(t, http.StatusTooManyRequests, serve(handler, req))
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	handler := limiter.Middleware("swap")(okHandler())

	reqA := httptest.NewRequest(http.MethodPost, "/v1/pairs/A/swap", nil)
	reqA.Header.Set("X-API-Key", "tenant-A")
	reqB := httptest.NewRequest(http.MethodPost, "/v1/pairs/A/swap", nil)
	reqB.Header.Set("X-API-Key", "tenant-B")

	require.Equal(t, http.StatusOK, serve(handler, reqA))
	require.Equal(t, http.StatusOK, serve(handler, reqB))
	require.Equal(t, http.StatusTooManyRequests, serve(handler, reqA))
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	handler := limiter.Middleware("swap")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/pairs/A/swap", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	require.Equal(t, http.StatusOK, serve(handler, req))
	require.Len(t, limiter.visitors, 1)
	require.Contains(t, limiter.visitors, "10.0.0.1")

	now = now.Add(11 * time.Minute)
	other := httptest.NewRequest(http.MethodPost, "/v1/pairs/A/swap", nil)
	other.Header.Set("X-Real-IP", "10.0.0.9")
	require.Equal(t, http.StatusOK, serve(handler, other))
	require.Len(t, limiter.visitors, 1)
	require.NotContains(t, limiter.visitors, "10.0.0.1")
}
