package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/ratelimit"
	"github.com/freekieb7/lockbox/internal/token"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *ratelimit.Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewLimiter(cache.NewServiceWithClient(client, "lockbox:", 200*time.Millisecond, discard), nil, discard, ratelimit.Config{
		Enabled:         true,
		FallbackEnabled: true,
	})
	t.Cleanup(limiter.Close)
	return mr, limiter
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitMiddleware(t *testing.T) {
	_, limiter := newTestLimiter(t)

	limit := RateLimit{Endpoint: "login", Requests: 2, Window: time.Minute, KeyFunc: KeyByIP}
	handler := RateLimitMiddleware(limiter, limit, discard)(okHandler)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := 0; i < limit.Requests; i++ {
			rr := send("203.0.113.1:12345")
			require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
			assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		rr := send("203.0.113.1:12345")
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Contains(t, rr.Body.String(), "RATE_LIMITED")
	})

	t.Run("different IPs are treated independently", func(t *testing.T) {
		rr := send("203.0.113.2:12345")
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRateLimitMiddleware_ForwardedForRotation(t *testing.T) {
	_, limiter := newTestLimiter(t)

	limit := RateLimit{Endpoint: "login", Requests: 2, Window: time.Minute, KeyFunc: KeyByIP}
	handler := RateLimitMiddleware(limiter, limit, discard)(okHandler)

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.5:4000"
		req.Header.Set("X-Forwarded-For", spoofed+", 203.0.113.9")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	mr.Close()

	limit := RateLimit{Endpoint: "login", Requests: 1, Window: time.Minute, KeyFunc: KeyByIP}
	handler := RateLimitMiddleware(limiter, limit, discard)(okHandler)

	// The in-process fallback still enforces the limit per instance.
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestKeyBySubject(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.RemoteAddr = "203.0.113.9:443"
	assert.Equal(t, "203.0.113.9", KeyBySubject(req))

	ctx := context.WithValue(req.Context(), claimsKey, &token.Claims{Subject: "user-1"})
	assert.Equal(t, "user:user-1", KeyBySubject(req.WithContext(ctx)))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expectedIP string
	}{
		{
			name:       "X-Forwarded-For from proxy",
			remoteAddr: "10.0.0.1:8080",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			expectedIP: "198.51.100.1",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			remoteAddr: "127.0.0.1:8080",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2, 172.16.0.1"},
			expectedIP: "198.51.100.1",
		},
		{
			name:       "X-Forwarded-For spoofed left entries ignored",
			remoteAddr: "10.0.0.5:8080",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.9"},
			expectedIP: "203.0.113.9",
		},
		{
			name:       "X-Forwarded-For only proxies",
			remoteAddr: "10.0.0.5:8080",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.8"},
			expectedIP: "10.0.0.9",
		},
		{
			name:       "X-Real-IP from proxy",
			remoteAddr: "10.0.0.1:8080",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			expectedIP: "198.51.100.2",
		},
		{
			name:       "X-Forwarded-For takes precedence",
			remoteAddr: "10.0.0.1:8080",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.1",
				"X-Real-IP":       "198.51.100.2",
			},
			expectedIP: "198.51.100.1",
		},
		{
			name:       "headers ignored from public peer",
			remoteAddr: "203.0.113.7:8080",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			expectedIP: "203.0.113.7",
		},
		{
			name:       "fallback to RemoteAddr",
			remoteAddr: "192.168.1.4:8080",
			headers:    map[string]string{},
			expectedIP: "192.168.1.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(req))
		})
	}
}

func BenchmarkRateLimitMiddleware(b *testing.B) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		b.Fatal(err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := ratelimit.NewLimiter(cache.NewServiceWithClient(client, "lockbox:", time.Second, discard), nil, discard, ratelimit.Config{Enabled: true})
	limit := RateLimit{Endpoint: "bench", Requests: 1000000, Window: time.Minute, KeyFunc: KeyByIP}
	handler := RateLimitMiddleware(limiter, limit, discard)(okHandler)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
