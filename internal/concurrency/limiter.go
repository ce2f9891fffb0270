// Package concurrency caps the number of requests inside the pipeline
// at any moment. Admission is fail-fast: over the cap the request is
// shed immediately instead of queuing.
package concurrency

import "sync"

// Limiter is the global in-flight gauge. The check and the increment
// happen under the same critical section so the cap can never be
// exceeded by racing admissions.
type Limiter struct {
	mu       sync.Mutex
	max      int
	inFlight int
}

// New creates a Limiter with the given cap.
func New(maxConcurrent int) *Limiter {
	return &Limiter{max: maxConcurrent}
}

// TryAcquire admits the request if capacity remains.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight >= l.max {
		return false
	}
	l.inFlight++
	return true
}

// Release returns a permit. Callers pair it with TryAcquire via defer
// so the count drops on every exit path.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}

// InFlight returns the current occupancy.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Max returns the configured cap.
func (l *Limiter) Max() int { return l.max }
