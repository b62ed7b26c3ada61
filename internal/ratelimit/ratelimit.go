// Package ratelimit provides fixed-window attempt counters for
// authentication and cooperative-switch endpoints. The counter store is an
// explicit interface so the in-memory implementation can be swapped for a
// distributed cache without touching call sites.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is returned when the client exceeded the window budget.
var ErrLimited = errors.New("ratelimit: too many attempts")

// LimitError carries the remaining window so callers can emit Retry-After.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return ErrLimited }

// CounterStore counts attempts per key inside a fixed window.
type CounterStore interface {
	// Incr records one attempt for key and returns the attempt count within
	// the current window plus the instant the window resets.
	Incr(key string, window time.Duration, now time.Time) (count int, resetAt time.Time)
	// Reset clears the counter for key.
	Reset(key string)
}

// MemoryStore is the default map+mutex CounterStore.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryStore constructs an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (s *MemoryStore) Incr(key string, span time.Duration, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(span)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt
}

func (s *MemoryStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Limiter enforces a fixed-window budget per client identifier.
type Limiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLimiter constructs a Limiter over the given counter store.
func NewLimiter(store CounterStore, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one attempt for key. When the budget is exhausted it returns
// a *LimitError whose RetryAfter equals the remaining window.
func (l *Limiter) Allow(key string) error {
	if l == nil || l.store == nil || l.limit <= 0 {
		return nil
	}
	now := l.now()
	count, resetAt := l.store.Incr(key, l.window, now)
	if count <= l.limit {
		return nil
	}
	return &LimitError{RetryAfter: resetAt.Sub(now)}
}

// Reset clears the counter for key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	if l == nil || l.store == nil {
		return
	}
	l.store.Reset(key)
}
