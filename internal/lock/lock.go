// Package lock provides a distributed mutual-exclusion lock backed by
// the shared KV store, used to deduplicate retried webhook deliveries
// that land on different worker processes.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mobilityone/fleetbridge/internal/kvstore"
)

// Locker acquires and releases per-message locks keyed "lock:msg:<id>".
type Locker struct {
	store *kvstore.Store
}

// New creates a Locker over the given store.
func New(store *kvstore.Store) *Locker {
	return &Locker{store: store}
}

// Handle represents a held lock; only the process that acquired it can
// release it, enforced server-side by a compare-and-delete script.
type Handle struct {
	key   string
	token string
}

// Acquire attempts to acquire the lock for key with the given TTL. It
// returns (nil, nil) if the lock is already held by someone else — this
// is the normal "duplicate webhook" case, not an error.
func Acquire(ctx context.Context, l *Locker, key string, ttl time.Duration) (*Handle, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Handle{key: key, token: token}, nil
}

// Release deletes the lock key if and only if it still carries this
// handle's token. Safe to call on a handle whose TTL already expired:
// the compare fails and Release is a no-op.
func (h *Handle) Release(ctx context.Context, l *Locker) error {
	if h == nil {
		return nil
	}
	_, err := l.store.ReleaseIfOwner(ctx, h.key, h.token)
	return err
}

// MessageLockKey builds the canonical lock key for an inbound message id.
func MessageLockKey(messageID string) string {
	return "lock:msg:" + messageID
}
