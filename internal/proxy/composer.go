package proxy

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/C-NASIR/API-Gateway/internal/concurrency"
	"github.com/C-NASIR/API-Gateway/internal/metrics"
	"github.com/C-NASIR/API-Gateway/internal/ratelimiter"
)

// adminPrefix is the reserved control-plane namespace.
const adminPrefix = "/__"

// Compose builds the public handler:
//
//	Recovery → Trace → health fast-path → Concurrency → RateLimit →
//	  mux(/__ → admin, else → gateway)
//
// The admin handler receives the raw *Gateway for introspection while
// public traffic always crosses the full middleware stack. /__health
// alone bypasses the limiters so a saturated gateway still answers
// liveness probes; every other admin path pays admission like any
// client.
func Compose(gw *Gateway, admin http.Handler, conc *concurrency.Limiter, rl ratelimiter.Limiter, m *metrics.Metrics, log *zap.SugaredLogger) http.Handler {
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, adminPrefix) {
			admin.ServeHTTP(w, r)
			return
		}
		gw.ServeHTTP(w, r)
	})

	return Chain(mux,
		Recovery(log),
		Trace(),
		healthFastPath(admin),
		Concurrency(conc),
		RateLimit(rl, gw.Table(), m, log),
	)
}

// healthFastPath answers /__health before any limiter runs.
func healthFastPath(admin http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/__health" {
				admin.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
