package ratelimit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/clock"
)

type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
	clock  clock.Clock
}

// New returns a limiter allowing limit hits per window. A non-positive limit
// disables limiting.
func New(store Store, limit int64, window time.Duration, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real{}
	}
	return &Limiter{store: store, limit: limit, window: window, clock: c}
}

// Allow records a hit for (endpoint, id) and reports whether it fits the
// window. Store failures are returned to the caller.
func (l *Limiter) Allow(ctx context.Context, endpoint, id string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	n, err := l.store.Hit(ctx, Key(endpoint, id), l.clock.Now(), l.window)
	if err != nil {
		return false, err
	}
	return n <= l.limit, nil
}

func Key(endpoint, id string) string {
	return "rl:" + endpoint + ":" + id
}
