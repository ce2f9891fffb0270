package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestWindow(limit int, window time.Duration) (*FixedWindow, *time.Time) {
	now := time.Unix(1000, 0)
	l := NewFixedWindow(limit, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestFixedWindowAdmitsUpToLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestWindow(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "1.2.3.4:/api")
		assert.True(t, ok, "request %d should be admitted", i+1)
	}
	ok, retryAfter := l.Allow(ctx, "1.2.3.4:/api")
	assert.False(t, ok)
	assert.Equal(t, 10, retryAfter)
}

func TestFixedWindowRemaining(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestWindow(3, 10*time.Second)

	assert.Equal(t, 3, l.Remaining(ctx, "id"))
	l.Allow(ctx, "id")
	assert.Equal(t, 2, l.Remaining(ctx, "id"))
	l.Allow(ctx, "id")
	l.Allow(ctx, "id")
	assert.Equal(t, 0, l.Remaining(ctx, "id"))
	l.Allow(ctx, "id")
	assert.Equal(t, 0, l.Remaining(ctx, "id"))
}

func TestFixedWindowLazyRotation(t *testing.T) {
	ctx := context.Background()
	l, now := newTestWindow(2, 10*time.Second)

	l.Allow(ctx, "id")
	l.Allow(ctx, "id")
	ok, _ := l.Allow(ctx, "id")
	assert.False(t, ok)

	// window elapses; the next attempt resets the bucket to (now, 1)
	*now = now.Add(10 * time.Second)
	ok, _ = l.Allow(ctx, "id")
	assert.True(t, ok)
	assert.Equal(t, 1, l.Remaining(ctx, "id"))
}

func TestFixedWindowRetryAfterShrinks(t *testing.T) {
	ctx := context.Background()
	l, now := newTestWindow(1, 10*time.Second)

	l.Allow(ctx, "id")
	*now = now.Add(4 * time.Second)
	ok, retryAfter := l.Allow(ctx, "id")
	assert.False(t, ok)
	assert.Equal(t, 6, retryAfter)
}

func TestFixedWindowIdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestWindow(1, 10*time.Second)

	ok, _ := l.Allow(ctx, "1.1.1.1:/api")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "1.1.1.1:/api")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "2.2.2.2:/api")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "1.1.1.1:/auth")
	assert.True(t, ok)
}

func TestFixedWindowStats(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestWindow(5, 10*time.Second)
	l.Allow(ctx, "a")
	l.Allow(ctx, "b")

	stats := l.Stats()
	assert.Equal(t, "local", stats["backend"])
	assert.Equal(t, 5, stats["limit"])
	assert.Equal(t, 10.0, stats["window_seconds"])
	assert.Equal(t, 2, stats["identities"])
}
