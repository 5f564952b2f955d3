// Package ratelimit bounds chat requests per caller identity over a rolling
// window. Window state lives in an external store; the limiter itself holds no
// mutable state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"church-assistant/internal/domain"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 10

	// AnonymousIdentifier is used when a caller presents neither a session
	// nor a network origin.
	AnonymousIdentifier = "anonymous"
)

// WindowStore persists one rate window per identifier.
type WindowStore interface {
	// GetWindow returns the stored window for identifier. found is false when
	// no window exists.
	GetWindow(ctx context.Context, identifier string) (w domain.RateWindow, found bool, err error)
	// PutWindow replaces the window for w.Identifier. ttl is a hint for how
	// long the row is useful; stores may use it to expire stale rows.
	PutWindow(ctx context.Context, w domain.RateWindow, ttl time.Duration) error
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter admits at most limit requests per identifier within window.
type Limiter struct {
	store  WindowStore
	window time.Duration
	limit  int
}

func New(store WindowStore, window time.Duration, limit int) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: window store must not be nil")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{store: store, window: window, limit: limit}, nil
}

// Admit checks identifier against its current window. Admitted calls write
// the window exactly once; rejected calls only read. Storage errors are
// returned so the caller fails closed.
func (l *Limiter) Admit(ctx context.Context, identifier string, now time.Time) (Decision, error) {
	w, found, err := l.store.GetWindow(ctx, identifier)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: read window: %w", err)
	}

	if !found || !l.active(w, now) {
		w = domain.RateWindow{Identifier: identifier, WindowStart: now, RequestCount: 1}
	} else if w.RequestCount >= l.limit {
		return Decision{
			Allowed:    false,
			Count:      w.RequestCount,
			RetryAfter: w.WindowStart.Add(l.window).Sub(now),
		}, nil
	} else {
		w.RequestCount++
	}

	if err := l.store.PutWindow(ctx, w, l.window); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: write window: %w", err)
	}
	return Decision{Allowed: true, Count: w.RequestCount}, nil
}

func (l *Limiter) active(w domain.RateWindow, now time.Time) bool {
	return now.Sub(w.WindowStart) < l.window
}

// Identifier picks the throttling key: the session id, else the first hop of
// the forwarded-for chain, else the fixed anonymous literal.
func Identifier(sessionID, forwardedFor string) string {
	if s := strings.TrimSpace(sessionID); s != "" {
		return s
	}
	if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return AnonymousIdentifier
}
