// Package admin serves the control-plane surface under the reserved
// /__ prefix: health, route and circuit introspection, limiter stats,
// metrics exposition, and hot reload of the route table.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/C-NASIR/API-Gateway/internal/circuitbreaker"
	"github.com/C-NASIR/API-Gateway/internal/concurrency"
	"github.com/C-NASIR/API-Gateway/internal/metrics"
	"github.com/C-NASIR/API-Gateway/internal/proxy"
	"github.com/C-NASIR/API-Gateway/internal/ratelimiter"
	"github.com/C-NASIR/API-Gateway/internal/routes"
	"github.com/C-NASIR/API-Gateway/internal/trace"
)

// reloadMinInterval throttles /__reload; a second reload inside this
// window is rejected with 429.
const reloadMinInterval = 10 * time.Second

// RouteLoader fetches the serialized route table from wherever it is
// stored. The admin surface treats the store as opaque.
type RouteLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// Surface is the control-plane handler. It holds the raw gateway
// reference, not the wrapped middleware chain, so reading a snapshot
// never sends a request back through the pipeline.
type Surface struct {
	gw      *proxy.Gateway
	breaker *circuitbreaker.Breaker
	limiter ratelimiter.Limiter
	conc    *concurrency.Limiter
	loader  RouteLoader
	log     *zap.SugaredLogger
	router  chi.Router

	mu         sync.Mutex
	lastReload time.Time
	now        func() time.Time
}

// New wires the admin endpoints.
func New(gw *proxy.Gateway, breaker *circuitbreaker.Breaker, limiter ratelimiter.Limiter, conc *concurrency.Limiter, m *metrics.Metrics, loader RouteLoader, log *zap.SugaredLogger) *Surface {
	s := &Surface{
		gw:      gw,
		breaker: breaker,
		limiter: limiter,
		conc:    conc,
		loader:  loader,
		log:     log,
		now:     time.Now,
	}

	r := chi.NewRouter()
	r.Get("/__health", s.health)
	r.Get("/__routes", s.routes)
	r.Get("/__circuit", s.circuit)
	r.Get("/__limits", s.limits)
	r.Method(http.MethodGet, "/__metrics", m.Handler())
	r.Post("/__reload", s.reload)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	s.router = r
	return s
}

func (s *Surface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Surface) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Surface) routes(w http.ResponseWriter, _ *http.Request) {
	data, err := routes.MarshalTable(s.gw.Table().Snapshot())
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, data)
}

func (s *Surface) circuit(w http.ResponseWriter, _ *http.Request) {
	data, _ := json.Marshal(s.breaker.Status())
	writeJSON(w, data)
}

func (s *Surface) limits(w http.ResponseWriter, _ *http.Request) {
	data, _ := json.Marshal(map[string]any{
		"rate_limit": s.limiter.Stats(),
		"concurrency_limit": map[string]int{
			"max":       s.conc.Max(),
			"in_flight": s.conc.InFlight(),
		},
	})
	writeJSON(w, data)
}

// reload fetches the serialized table from the loader, parses it, and
// swaps it in atomically. Throttled so a misbehaving client cannot
// hammer the config store.
func (s *Surface) reload(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context(), s.log)

	s.mu.Lock()
	if !s.lastReload.IsZero() && s.now().Sub(s.lastReload) < reloadMinInterval {
		s.mu.Unlock()
		log.Warnw("reload rejected, too frequent")
		http.Error(w, "Reload too frequent", http.StatusTooManyRequests)
		return
	}
	s.mu.Unlock()

	data, err := s.loader.Load(r.Context())
	if err != nil {
		log.Errorw("route config fetch failed", "err", err)
		http.Error(w, "Reload failed", http.StatusInternalServerError)
		return
	}
	entries, err := routes.Parse(data)
	if err != nil {
		log.Errorw("route config parse failed", "err", err)
		http.Error(w, "Reload failed", http.StatusInternalServerError)
		return
	}

	s.gw.Table().Replace(entries)
	s.mu.Lock()
	s.lastReload = s.now()
	s.mu.Unlock()

	log.Infow("route table reloaded", "routes", len(entries))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Routes reloaded"))
}

func writeJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
