// Package admission implements the per-requester fixed-window gate applied
// before a job is accepted.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

type window struct {
	count int
	until time.Time
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RejectedError carries the reset time of the window that rejected a request.
type RejectedError struct {
	Key     string
	ResetAt time.Time
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s until %s", e.Key, e.ResetAt.Format(time.RFC3339))
}

func (e *RejectedError) Unwrap() error { return domain.ErrAdmissionRejected }

// Limiter counts requests per key in fixed windows. A window opens on the
// first request for a key and closes after the configured duration, so a
// burst straddling a window edge can reach twice the ceiling.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter creates a limiter admitting limit requests per key per window.
// A non-positive limit disables admission control.
func NewLimiter(limit int, per time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		per:     per,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts a request for key.
func (l *Limiter) Allow(key string) Decision {
	if l == nil || l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.until) {
		w = &window{until: now.Add(l.per)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.until}
	}
	w.count++
	return Decision{Allowed: true, Remaining: l.limit - w.count, ResetAt: w.until}
}

// Admit is Allow expressed as an error for callers that only need a verdict.
func (l *Limiter) Admit(key string) error {
	d := l.Allow(key)
	if d.Allowed {
		return nil
	}
	return &RejectedError{Key: key, ResetAt: d.ResetAt}
}

// Sweep drops windows that have already closed and returns how many.
func (l *Limiter) Sweep() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.until) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired windows on every tick until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug().Int("expired", n).Msg("admission windows swept")
			}
		}
	}
}
