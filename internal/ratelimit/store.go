// Package ratelimit implements a sliding-window request counter keyed by
// (endpoint, identifier) over a pluggable counter store.
package ratelimit

import (
	"context"
	"time"
)

// Store records one hit for key at now and returns how many hits the key
// has within (now-window, now]. Implementations expire idle keys.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
}
