// Package headers applies the per-route header policy to inbound
// requests before they are forwarded upstream.
package headers

import (
	"net/http"
	"sort"
	"strings"
)

// hop-by-hop headers are connection-scoped and never forwarded.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Policy describes how a route mutates forwarded headers: names in
// remove are dropped, set entries overwrite, append entries fill only
// when the name is absent. Names are lowercased at construction.
type Policy struct {
	remove map[string]bool
	set    map[string]string
	append map[string]string
}

// NewPolicy normalizes the given sets into a Policy.
func NewPolicy(remove []string, set, append_ map[string]string) *Policy {
	p := &Policy{
		remove: make(map[string]bool, len(remove)),
		set:    make(map[string]string, len(set)),
		append: make(map[string]string, len(append_)),
	}
	for _, name := range remove {
		p.remove[strings.ToLower(name)] = true
	}
	for name, v := range set {
		p.set[strings.ToLower(name)] = v
	}
	for name, v := range append_ {
		p.append[strings.ToLower(name)] = v
	}
	return p
}

// DefaultPolicy strips credentials and brands forwarded requests.
func DefaultPolicy() *Policy {
	return NewPolicy(
		[]string{"authorization", "cookie"},
		map[string]string{"x-gateway": "my-api-gateway"},
		nil,
	)
}

// Rewrite transforms the inbound header set into the map forwarded to
// the backend. Duplicate inbound names collapse last-value-wins, then
// policy removal, host and hop-by-hop stripping, set, append, and the
// trace id are applied in that order.
func (p *Policy) Rewrite(inbound http.Header, traceID string) map[string]string {
	out := make(map[string]string, len(inbound))
	for name, values := range inbound {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[len(values)-1]
	}

	for name := range p.remove {
		delete(out, name)
	}
	delete(out, "host")
	for name := range hopByHop {
		delete(out, name)
	}
	for name, v := range p.set {
		out[name] = v
	}
	for name, v := range p.append {
		if _, ok := out[name]; !ok {
			out[name] = v
		}
	}
	if traceID != "" {
		out["x-trace-id"] = traceID
	}
	return out
}

// RemoveList returns the removed names, sorted for stable output.
func (p *Policy) RemoveList() []string {
	out := make([]string, 0, len(p.remove))
	for name := range p.remove {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetMap returns a copy of the set entries.
func (p *Policy) SetMap() map[string]string {
	out := make(map[string]string, len(p.set))
	for k, v := range p.set {
		out[k] = v
	}
	return out
}

// AppendMap returns a copy of the append entries.
func (p *Policy) AppendMap() map[string]string {
	out := make(map[string]string, len(p.append))
	for k, v := range p.append {
		out[k] = v
	}
	return out
}
