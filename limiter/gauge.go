package limiter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/persistence"
)

// ErrIpCapExceeded is returned when an IP already holds the configured number
// of concurrent connections.
var ErrIpCapExceeded = errors.New("connection cap for this ip exceeded")

const gaugeKeyPrefix = "connections:"

// IPGauge tracks live connections per client IP. Unlike the windowed counters
// it is incremented on accept and decremented on release. Every increment
// refreshes an absolute safety TTL so a leaked decrement (e.g. a crash without
// the matching disconnect) cannot pin an IP at its cap forever.
type IPGauge struct {
	store persistence.Store
	cap   int64
	ttl   time.Duration
	open  bool
}

func NewIPGauge(store persistence.Store, cfg config.LimitsConfig) *IPGauge {
	ttl := cfg.GaugeTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	ipCap := int64(cfg.IPCap)
	if ipCap <= 0 {
		ipCap = 100
	}
	return &IPGauge{store: store, cap: ipCap, ttl: ttl, open: cfg.FailOpen}
}

// Acquire admits one connection for ip, or returns ErrIpCapExceeded with the
// gauge unchanged when the cap is reached.
func (g *IPGauge) Acquire(ctx context.Context, ip string) error {
	key := gaugeKeyPrefix + ip
	count, err := g.store.IncrementWithExpiry(ctx, key, g.ttl)
	if err != nil {
		globals.AppLogger.Warn("connection gauge unavailable", "ip", ip, "fail_open", g.open, "error", err)
		if g.open {
			return nil
		}
		return ErrIpCapExceeded
	}
	if count > g.cap {
		// undo our own increment, the attempt must not mutate state
		if _, derr := g.store.Decrement(ctx, key); derr != nil {
			globals.AppLogger.Warn("could not roll back gauge increment", "ip", ip, "error", derr)
		}
		return ErrIpCapExceeded
	}
	if err := g.store.Expire(ctx, key, g.ttl); err != nil {
		globals.AppLogger.Warn("could not refresh gauge ttl", "ip", ip, "error", err)
	}
	return nil
}

// Release returns one connection slot for ip. The gauge floors at 0, a
// release without a matching acquire is harmless.
func (g *IPGauge) Release(ctx context.Context, ip string) {
	if _, err := g.store.Decrement(ctx, gaugeKeyPrefix+ip); err != nil {
		globals.AppLogger.Warn("could not release connection gauge", "ip", ip, "error", err)
	}
}

// Count returns the current gauge value for ip.
func (g *IPGauge) Count(ctx context.Context, ip string) (int64, error) {
	value, err := g.store.Get(ctx, gaugeKeyPrefix+ip)
	if errors.Is(err, persistence.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}
