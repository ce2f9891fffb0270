// Package ratelimiter provides per-identity fixed-window admission
// control. Two interchangeable implementations exist: an in-process
// bucket map and a Redis-backed sorted-set limiter for deployments
// with more than one gateway instance.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request identified by identity (ip:path)
// may proceed. On rejection the second return value is the number of
// whole seconds the client should wait before retrying.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, int)
	Remaining(ctx context.Context, identity string) int
	Limit() int
	Stats() map[string]any
}

// ---------------------------------------------------------------------------
// Local fixed window
// ---------------------------------------------------------------------------

// bucket is one identity's window. Rotation is lazy: the bucket resets
// on the first admission attempt after the window has elapsed.
type bucket struct {
	windowStart time.Time
	count       int
}

// FixedWindow is the in-process limiter.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket

	now func() time.Time
}

// NewFixedWindow creates a local limiter admitting limit requests per
// identity per window.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *FixedWindow) Allow(_ context.Context, identity string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[identity]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[identity] = &bucket{windowStart: now, count: 1}
		return true, 0
	}
	if b.count < l.limit {
		b.count++
		return true, 0
	}
	return false, l.retryAfter(b, now)
}

func (l *FixedWindow) Remaining(_ context.Context, identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok || l.now().Sub(b.windowStart) >= l.window {
		return l.limit
	}
	return max(0, l.limit-b.count)
}

func (l *FixedWindow) Limit() int { return l.limit }

func (l *FixedWindow) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"backend":        "local",
		"limit":          l.limit,
		"window_seconds": l.window.Seconds(),
		"identities":     len(l.buckets),
	}
}

// retryAfter is the remainder of the current window, rounded up to
// whole seconds so it is directly usable as a Retry-After value.
func (l *FixedWindow) retryAfter(b *bucket, now time.Time) int {
	left := l.window - now.Sub(b.windowStart)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}
