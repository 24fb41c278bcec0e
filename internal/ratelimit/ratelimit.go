// Package ratelimit provides a fixed-window per-sender request limiter
// backed by the shared KV store.
package ratelimit

import (
	"context"
	"time"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
)

const (
	windowTTL = 60 * time.Second
	maxPerWin = 20
)

// Limiter enforces a 20-requests-per-60-second window per sender.
type Limiter struct {
	store *kvstore.Store
}

// New creates a Limiter over the given store.
func New(store *kvstore.Store) *Limiter {
	return &Limiter{store: store}
}

// Allow increments the sender's counter and reports whether the request
// is within the window's limit. The counter's TTL is set only on the
// first increment of each window.
func (l *Limiter) Allow(ctx context.Context, sender string) (bool, error) {
	key := "rate:" + sender
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, windowTTL); err != nil {
			return false, err
		}
	}
	return count <= maxPerWin, nil
}
