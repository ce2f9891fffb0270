// Package routes holds the gateway's routing table: a prefix → backend
// mapping with optional per-route overrides. The table is replaced
// wholesale on reload; readers never take a lock.
package routes

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/C-NASIR/API-Gateway/internal/headers"
)

// Entry is one routing rule. The override fields are pointers so that
// "absent" and "zero" stay distinguishable when merging over defaults.
type Entry struct {
	Prefix     string
	Backend    *url.URL
	Retries    *int
	RetryDelay *time.Duration
	Timeout    *time.Duration
	Policy     *headers.Policy
}

// Table is the swappable route set.
type Table struct {
	entries atomic.Pointer[[]*Entry]
}

// New builds a table from the given entries.
func New(entries []*Entry) *Table {
	t := &Table{}
	t.Replace(entries)
	return t
}

// Match returns the entry with the longest prefix matching path.
func (t *Table) Match(path string) (*Entry, bool) {
	var best *Entry
	for _, e := range *t.entries.Load() {
		if strings.HasPrefix(path, e.Prefix) {
			if best == nil || len(e.Prefix) > len(best.Prefix) {
				best = e
			}
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Replace atomically swaps in a new route set. In-flight matches see
// either the old or the new table as a whole.
func (t *Table) Replace(entries []*Entry) {
	t.entries.Store(&entries)
}

// Snapshot returns the current entries, sorted by prefix for stable
// admin output.
func (t *Table) Snapshot() []*Entry {
	src := *t.entries.Load()
	out := make([]*Entry, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// ---------------------------------------------------------------------------
// JSON codec
// ---------------------------------------------------------------------------

// entryJSON is the wire form of a route value. Durations travel as
// seconds (retry_delay and timeout may be fractional).
type entryJSON struct {
	Backend    string      `json:"backend"`
	Retries    *int        `json:"retries,omitempty"`
	RetryDelay *float64    `json:"retry_delay,omitempty"`
	Timeout    *float64    `json:"timeout,omitempty"`
	Policy     *policyJSON `json:"header_policy,omitempty"`
}

type policyJSON struct {
	Remove []string          `json:"remove,omitempty"`
	Set    map[string]string `json:"set,omitempty"`
	Append map[string]string `json:"append,omitempty"`
}

// Parse decodes a serialized route table. Both value forms are
// accepted — a bare backend URL string or the full object — and the
// bare form is canonicalized into an Entry with no overrides.
func Parse(data []byte) ([]*Entry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}

	entries := make([]*Entry, 0, len(raw))
	for prefix, val := range raw {
		if prefix == "" || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must begin with /", prefix)
		}

		var ej entryJSON
		var bare string
		if err := json.Unmarshal(val, &bare); err == nil {
			ej.Backend = bare
		} else if err := json.Unmarshal(val, &ej); err != nil {
			return nil, fmt.Errorf("route %q: %w", prefix, err)
		}
		if ej.Backend == "" {
			return nil, fmt.Errorf("route %q: backend is required", prefix)
		}

		backend, err := url.Parse(ej.Backend)
		if err != nil || backend.Scheme == "" || backend.Host == "" {
			return nil, fmt.Errorf("route %q: invalid backend URL %q", prefix, ej.Backend)
		}

		e := &Entry{Prefix: prefix, Backend: backend}
		if ej.Retries != nil {
			if *ej.Retries < 0 {
				return nil, fmt.Errorf("route %q: retries must be >= 0", prefix)
			}
			e.Retries = ej.Retries
		}
		if ej.RetryDelay != nil {
			if *ej.RetryDelay < 0 {
				return nil, fmt.Errorf("route %q: retry_delay must be >= 0", prefix)
			}
			d := time.Duration(*ej.RetryDelay * float64(time.Second))
			e.RetryDelay = &d
		}
		if ej.Timeout != nil {
			if *ej.Timeout <= 0 {
				return nil, fmt.Errorf("route %q: timeout must be > 0", prefix)
			}
			d := time.Duration(*ej.Timeout * float64(time.Second))
			e.Timeout = &d
		}
		if ej.Policy != nil {
			e.Policy = headers.NewPolicy(ej.Policy.Remove, ej.Policy.Set, ej.Policy.Append)
		}
		entries = append(entries, e)
	}

	// Prefixes come out of a JSON object so duplicates cannot survive
	// decoding, but equal-length distinct prefixes shadowing each other
	// on a given path are resolved by longest-wins at match time.
	return entries, nil
}

// MarshalJSON renders the canonical wire form for /__routes.
func (e *Entry) MarshalJSON() ([]byte, error) {
	ej := entryJSON{Backend: e.Backend.String(), Retries: e.Retries}
	if e.RetryDelay != nil {
		s := e.RetryDelay.Seconds()
		ej.RetryDelay = &s
	}
	if e.Timeout != nil {
		s := e.Timeout.Seconds()
		ej.Timeout = &s
	}
	if e.Policy != nil {
		ej.Policy = &policyJSON{
			Remove: e.Policy.RemoveList(),
			Set:    e.Policy.SetMap(),
			Append: e.Policy.AppendMap(),
		}
	}
	return json.Marshal(ej)
}

// MarshalTable renders the whole table in the same shape /__reload
// consumes, keyed by prefix.
func MarshalTable(entries []*Entry) ([]byte, error) {
	m := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		m[e.Prefix] = e
	}
	return json.Marshal(m)
}
