package proxy

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"

	"go.uber.org/zap"

	"github.com/C-NASIR/API-Gateway/internal/concurrency"
	"github.com/C-NASIR/API-Gateway/internal/metrics"
	"github.com/C-NASIR/API-Gateway/internal/ratelimiter"
	"github.com/C-NASIR/API-Gateway/internal/routes"
	"github.com/C-NASIR/API-Gateway/internal/trace"
)

// ---------------------------------------------------------------------------
// responseWriter wrapper to capture status and stamp headers lazily
// ---------------------------------------------------------------------------

// statusWriter records the status code and runs beforeHeader exactly
// once, just before the header section is flushed.
type statusWriter struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	beforeHeader func(http.Header)
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}
	sw.wroteHeader = true
	sw.status = code
	if sw.beforeHeader != nil {
		sw.beforeHeader(sw.Header())
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

// Chain applies middlewares in order (first listed = outermost).
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ---------------------------------------------------------------------------
// Recovery — catches panics so one bad request can't crash the server
// ---------------------------------------------------------------------------

func Recovery(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					trace.Logger(r.Context(), log).Errorw("recovered from panic",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ---------------------------------------------------------------------------
// Trace — correlation id in, context through, header out
// ---------------------------------------------------------------------------

func Trace() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := trace.Ensure(r)
			w.Header().Set(trace.Header, id)
			next.ServeHTTP(w, r.WithContext(trace.NewContext(r.Context(), id)))
		})
	}
}

// ---------------------------------------------------------------------------
// Concurrency — global in-flight cap, fail-fast
// ---------------------------------------------------------------------------

func Concurrency(limiter *concurrency.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.TryAcquire() {
				w.Header().Set("X-Concurrency-Limit", strconv.Itoa(limiter.Max()))
				w.Header().Set("X-Concurrency-Remaining", "0")
				http.Error(w, "Too many concurrent requests", http.StatusServiceUnavailable)
				return
			}
			defer limiter.Release()

			sw := &statusWriter{ResponseWriter: w, beforeHeader: func(h http.Header) {
				remaining := max(0, limiter.Max()-limiter.InFlight())
				h.Set("X-Concurrency-Limit", strconv.Itoa(limiter.Max()))
				h.Set("X-Concurrency-Remaining", strconv.Itoa(remaining))
			}}
			next.ServeHTTP(sw, r)
		})
	}
}

// ---------------------------------------------------------------------------
// RateLimit — per-identity fixed window, identity is ip:path
// ---------------------------------------------------------------------------

func RateLimit(limiter ratelimiter.Limiter, table *routes.Table, m *metrics.Metrics, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := clientIP(r) + ":" + r.URL.Path
			limit := strconv.Itoa(limiter.Limit())

			remaining := limiter.Remaining(ctx, identity)
			allowed, retryAfter := limiter.Allow(ctx, identity)
			if !allowed {
				route := ""
				if entry, ok := table.Match(r.URL.Path); ok {
					route = entry.Prefix
				}
				m.ObserveRateLimited(route)
				trace.Logger(ctx, log).Warnw("rate limit exceeded",
					"identity", identity, "retry_after", retryAfter)

				w.Header().Set("RateLimit-Limit", limit)
				w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			sw := &statusWriter{ResponseWriter: w, beforeHeader: func(h http.Header) {
				h.Set("RateLimit-Limit", limit)
				h.Set("RateLimit-Remaining", strconv.Itoa(limiter.Remaining(ctx, identity)))
			}}
			next.ServeHTTP(sw, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
