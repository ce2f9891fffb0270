// Package trace carries the per-request correlation id. The id enters
// at the edge (client-supplied X-Trace-ID or a fresh UUID), rides the
// request context through every stage, and is echoed back to the
// client and stamped on every log line.
package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Header is the wire name of the trace id.
const Header = "X-Trace-ID"

type ctxKey struct{}

// NewContext returns ctx carrying the trace id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace id, or "" when no request is active.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure extracts the inbound trace id or mints a UUIDv4.
func Ensure(r *http.Request) string {
	if id := r.Header.Get(Header); id != "" {
		return id
	}
	return uuid.New().String()
}

// Logger returns base with the context's trace id attached. Outside a
// request the placeholder "-" is used so log shapes stay uniform.
func Logger(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	id := FromContext(ctx)
	if id == "" {
		id = "-"
	}
	return base.With("trace_id", id)
}
