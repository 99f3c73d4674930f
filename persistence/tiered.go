package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tcriess/lightspeed-sync/globals"
)

const probePingTimeout = 2 * time.Second

// TieredStore routes every operation to the primary networked store while it
// is reachable and transparently degrades to the in-process fallback when it
// is not. Primary failures never surface to callers: the failing operation is
// re-run on the fallback and a background probe restores primary routing once
// the backend recovers. Note that counters written to the fallback are local
// to this process, so limits are enforced per instance while degraded.
type TieredStore struct {
	primary  *RedisStore
	fallback Store

	healthy  int32
	stopChan chan struct{}
}

// NewTieredStore wires primary (may be nil when no networked store is
// configured) and fallback together and starts the recovery probe.
func NewTieredStore(primary *RedisStore, fallback Store, probeInterval time.Duration) *TieredStore {
	t := &TieredStore{
		primary:  primary,
		fallback: fallback,
		stopChan: make(chan struct{}),
	}
	if primary != nil {
		ctx, cancel := context.WithTimeout(context.Background(), probePingTimeout)
		if err := primary.Ping(ctx); err != nil {
			globals.AppLogger.Warn("primary store unreachable at startup, serving from fallback", "error", err)
		} else {
			atomic.StoreInt32(&t.healthy, 1)
		}
		cancel()
		if probeInterval <= 0 {
			probeInterval = 5 * time.Second
		}
		go t.probeLoop(probeInterval)
	}
	return t
}

// Degraded reports whether operations are currently served from the fallback.
func (t *TieredStore) Degraded() bool {
	return atomic.LoadInt32(&t.healthy) == 0
}

func (t *TieredStore) usePrimary() bool {
	return t.primary != nil && atomic.LoadInt32(&t.healthy) == 1
}

func (t *TieredStore) markDown(err error) {
	if atomic.CompareAndSwapInt32(&t.healthy, 1, 0) {
		globals.AppLogger.Warn("primary store failed, degrading to in-process fallback", "error", err)
	}
}

func (t *TieredStore) probeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			if atomic.LoadInt32(&t.healthy) == 1 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), probePingTimeout)
			err := t.primary.Ping(ctx)
			cancel()
			if err == nil {
				atomic.StoreInt32(&t.healthy, 1)
				globals.AppLogger.Info("primary store recovered, restoring primary routing")
			}
		}
	}
}

func (t *TieredStore) Get(ctx context.Context, key string) (string, error) {
	if t.usePrimary() {
		value, err := t.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrNotFound) {
			return value, err
		}
		t.markDown(err)
	}
	return t.fallback.Get(ctx, key)
}

func (t *TieredStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if t.usePrimary() {
		err := t.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		t.markDown(err)
	}
	return t.fallback.Set(ctx, key, value, ttl)
}

func (t *TieredStore) SetMany(ctx context.Context, entries map[string]string, ttl time.Duration) error {
	if t.usePrimary() {
		err := t.primary.SetMany(ctx, entries, ttl)
		if err == nil {
			return nil
		}
		t.markDown(err)
	}
	return t.fallback.SetMany(ctx, entries, ttl)
}

func (t *TieredStore) Delete(ctx context.Context, key string) error {
	if t.usePrimary() {
		err := t.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		t.markDown(err)
	}
	return t.fallback.Delete(ctx, key)
}

func (t *TieredStore) DeleteMany(ctx context.Context, keys []string) error {
	if t.usePrimary() {
		err := t.primary.DeleteMany(ctx, keys)
		if err == nil {
			return nil
		}
		t.markDown(err)
	}
	return t.fallback.DeleteMany(ctx, keys)
}

func (t *TieredStore) Exists(ctx context.Context, key string) (bool, error) {
	if t.usePrimary() {
		ok, err := t.primary.Exists(ctx, key)
		if err == nil {
			return ok, nil
		}
		t.markDown(err)
	}
	return t.fallback.Exists(ctx, key)
}

func (t *TieredStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if t.usePrimary() {
		count, err := t.primary.IncrementWithExpiry(ctx, key, ttl)
		if err == nil {
			return count, nil
		}
		t.markDown(err)
	}
	return t.fallback.IncrementWithExpiry(ctx, key, ttl)
}

func (t *TieredStore) Decrement(ctx context.Context, key string) (int64, error) {
	if t.usePrimary() {
		count, err := t.primary.Decrement(ctx, key)
		if err == nil {
			return count, nil
		}
		t.markDown(err)
	}
	return t.fallback.Decrement(ctx, key)
}

func (t *TieredStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if t.usePrimary() {
		err := t.primary.Expire(ctx, key, ttl)
		if err == nil {
			return nil
		}
		t.markDown(err)
	}
	return t.fallback.Expire(ctx, key, ttl)
}

func (t *TieredStore) ScanPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	if t.usePrimary() {
		out, err := t.primary.ScanPrefix(ctx, prefix)
		if err == nil {
			return out, nil
		}
		t.markDown(err)
	}
	return t.fallback.ScanPrefix(ctx, prefix)
}

func (t *TieredStore) Close() error {
	close(t.stopChan)
	err := t.fallback.Close()
	if t.primary != nil {
		if perr := t.primary.Close(); err == nil {
			err = perr
		}
	}
	return err
}
