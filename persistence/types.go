package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or already expired.
var ErrNotFound = errors.New("key not found")

// Store is the uniform contract over the tiered state store. All shared state
// of the gateway (room records, code mappings, rate-limit counters, connection
// gauges) lives behind this interface.
//
// A ttl of 0 means the key does not expire. IncrementWithExpiry creates the
// key at 1 with the given ttl if it is absent, otherwise it atomically adds 1
// and preserves the remaining ttl; it must hold under concurrent callers in
// every implementation, as all counters in the system are built on it.
// Decrement floors at 0. SetMany and DeleteMany write their keys in a single
// batch where the backend supports it, closing the window between the two
// keys a room registration or deletion touches.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetMany(ctx context.Context, entries map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	Exists(ctx context.Context, key string) (bool, error)
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}
