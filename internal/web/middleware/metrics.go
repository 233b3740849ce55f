package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/freekieb7/lockbox/internal/metrics"
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// statusClass keeps the label cardinality bounded.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// MetricsMiddleware records request counts and latency under route, which
// is the mux pattern rather than the raw path.
func MetricsMiddleware(m *metrics.Metrics, logger *slog.Logger, route string, slowThreshold time.Duration) func(http.Handler) http.Handler {
	if slowThreshold <= 0 {
		slowThreshold = time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := wrap(w)

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			if m != nil {
				m.HTTPRequests.WithLabelValues(route, r.Method, statusClass(wrapper.statusCode)).Inc()
				m.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
			}

			level := slog.LevelDebug
			switch {
			case wrapper.statusCode >= 500:
				level = slog.LevelError
			case duration > slowThreshold:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "HTTP request completed",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("ip", GetClientIP(r)),
				slog.Int("status_code", wrapper.statusCode),
				slog.Int("response_size", wrapper.size),
				slog.Duration("duration", duration))
		})
	}
}
