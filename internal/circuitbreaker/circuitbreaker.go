// Package circuitbreaker implements a two-state (closed/open) circuit
// breaker keyed by backend authority. There is no half-open probe
// state: once the cooldown elapses the next request is allowed through
// and acts as the probe — success resets the counter, failure re-opens
// the circuit for another recovery window.
package circuitbreaker

import (
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultRecoveryTime     = 30 * time.Second
)

// entry is the per-backend record. A backend is open iff now < openUntil.
type entry struct {
	failureCount int
	openUntil    time.Time
}

// Breaker tracks consecutive failures per backend authority (host:port).
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	backends  map[string]*entry

	now func() time.Time
}

// New creates a Breaker. Non-positive arguments fall back to defaults.
func New(failureThreshold int, recoveryTime time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = defaultFailureThreshold
	}
	if recoveryTime <= 0 {
		recoveryTime = defaultRecoveryTime
	}
	return &Breaker{
		threshold: failureThreshold,
		recovery:  recoveryTime,
		backends:  make(map[string]*entry),
		now:       time.Now,
	}
}

// Allow reports whether a request to backend may proceed.
func (b *Breaker) Allow(backend string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.backends[backend]
	if !ok {
		return true
	}
	return !b.now().Before(e.openUntil)
}

// RecordSuccess resets the backend to a clean closed state.
func (b *Breaker) RecordSuccess(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.get(backend)
	e.failureCount = 0
	e.openUntil = time.Time{}
}

// RecordFailure increments the failure count and opens the circuit
// when the threshold is reached.
func (b *Breaker) RecordFailure(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.get(backend)
	e.failureCount++
	if e.failureCount >= b.threshold {
		e.openUntil = b.now().Add(b.recovery)
	}
}

// Status returns backend → "open" | "closed" for every backend seen so
// far, computed from the current time.
func (b *Breaker) Status() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	status := make(map[string]string, len(b.backends))
	for backend, e := range b.backends {
		if now.Before(e.openUntil) {
			status[backend] = "open"
		} else {
			status[backend] = "closed"
		}
	}
	return status
}

func (b *Breaker) get(backend string) *entry {
	e, ok := b.backends[backend]
	if !ok {
		e = &entry{}
		b.backends[backend] = e
	}
	return e
}
