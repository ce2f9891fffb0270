// Package proxy composes the request pipeline: route matching, header
// rewriting, circuit-breaking and the retrying forwarder, wrapped by
// the admission middlewares and the control-plane mux.
package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/C-NASIR/API-Gateway/internal/forwarder"
	"github.com/C-NASIR/API-Gateway/internal/headers"
	"github.com/C-NASIR/API-Gateway/internal/metrics"
	"github.com/C-NASIR/API-Gateway/internal/routes"
	"github.com/C-NASIR/API-Gateway/internal/trace"
)

// Bodies are buffered in full before forwarding; the guard keeps one
// client from exhausting memory.
const maxBodyBytes = 10 << 20

// Defaults are the gateway-wide retry settings, overridden per route.
type Defaults struct {
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Gateway is the routing-and-forwarding core. It sits innermost in the
// middleware chain; the admin surface holds a direct reference to it.
type Gateway struct {
	table         *routes.Table
	fwd           *forwarder.Forwarder
	metrics       *metrics.Metrics
	defaults      Defaults
	defaultPolicy *headers.Policy
	log           *zap.SugaredLogger

	cleanups []func(context.Context) error
}

// NewGateway builds the core around an existing table and forwarder.
func NewGateway(table *routes.Table, fwd *forwarder.Forwarder, m *metrics.Metrics, defaults Defaults, log *zap.SugaredLogger) *Gateway {
	gw := &Gateway{
		table:         table,
		fwd:           fwd,
		metrics:       m,
		defaults:      defaults,
		defaultPolicy: headers.DefaultPolicy(),
		log:           log,
	}
	gw.AddCleanup(fwd.Close)
	return gw
}

// Table exposes the route table for the admin surface.
func (gw *Gateway) Table() *routes.Table { return gw.table }

// AddCleanup registers a shutdown callback. Callbacks run in
// registration order.
func (gw *Gateway) AddCleanup(cb func(context.Context) error) {
	gw.cleanups = append(gw.cleanups, cb)
}

// Shutdown invokes the cleanup callbacks in order.
func (gw *Gateway) Shutdown(ctx context.Context) {
	for _, cb := range gw.cleanups {
		if err := cb(ctx); err != nil {
			gw.log.Errorw("cleanup callback failed", "err", err)
		}
	}
	gw.log.Infow("shutdown complete, all resources closed")
}

// ServeHTTP runs one request through match → rewrite → forward → relay.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := trace.Logger(ctx, gw.log)

	if r.ProtoMajor != 1 || r.Method == http.MethodConnect {
		http.Error(w, "Unsupported", http.StatusBadRequest)
		return
	}

	path := r.URL.Path
	entry, ok := gw.table.Match(path)
	if !ok {
		log.Warnw("no route match", "path", path)
		gw.metrics.ObserveRequest(r.Method, "", http.StatusNotFound)
		http.Error(w, "Route not found", http.StatusNotFound)
		return
	}

	opts := gw.effectiveOptions(entry)
	policy := entry.Policy
	if policy == nil {
		policy = gw.defaultPolicy
	}
	fwdHeaders := policy.Rewrite(r.Header, trace.FromContext(ctx))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warnw("failed to read request body", "err", err)
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	target := targetURL(entry, r)
	log.Infow("proxying request", "method", r.Method, "path", path, "target", target)

	gw.metrics.ForwardStart()
	start := time.Now()
	resp := gw.fwd.Forward(ctx, r.Method, target, fwdHeaders, body, opts)
	gw.metrics.ForwardEnd()
	gw.metrics.ObserveDuration(entry.Prefix, time.Since(start).Seconds())

	gw.metrics.ObserveRequest(r.Method, entry.Prefix, resp.StatusCode)
	log.Infow("request completed",
		"method", r.Method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	relay(w, resp)
}

// effectiveOptions merges per-route overrides over the defaults.
func (gw *Gateway) effectiveOptions(entry *routes.Entry) forwarder.Options {
	opts := forwarder.Options{
		Retries:    gw.defaults.Retries,
		RetryDelay: gw.defaults.RetryDelay,
		Timeout:    gw.defaults.Timeout,
	}
	if entry.Retries != nil {
		opts.Retries = *entry.Retries
	}
	if entry.RetryDelay != nil {
		opts.RetryDelay = *entry.RetryDelay
	}
	if entry.Timeout != nil {
		opts.Timeout = *entry.Timeout
	}
	return opts
}

// targetURL appends the full inbound path and query to the backend
// base URL.
func targetURL(entry *routes.Entry, r *http.Request) string {
	base := strings.TrimSuffix(entry.Backend.String(), "/")
	target := base + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

// relay writes the forwarder outcome back to the client verbatim.
// Content-Length is recomputed from the buffered body.
func relay(w http.ResponseWriter, resp *forwarder.Response) {
	for name, values := range resp.Header {
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
