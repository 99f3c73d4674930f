package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/persistence"
)

// Dimension of a windowed rate limit.
type Dimension string

const (
	// DimensionConn limits the message rate of a single socket.
	DimensionConn Dimension = "conn"
	// DimensionRoom limits the aggregate message rate of a room.
	DimensionRoom Dimension = "room"
	// DimensionHTTP limits inbound HTTP requests per client IP.
	DimensionHTTP Dimension = "http"
	// DimensionAPI limits inbound API requests per client IP.
	DimensionAPI Dimension = "api"
)

// Decision is the outcome of a windowed limit check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetIn   time.Duration
}

// Limiter computes fixed-window admission decisions over shared counters in
// the state store. Fixed windows accept up to twice the configured rate at a
// window boundary; that is the documented tradeoff, not a sliding window.
type Limiter struct {
	store persistence.Store
	cfg   config.LimitsConfig
}

func NewLimiter(store persistence.Store, cfg config.LimitsConfig) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{store: store, cfg: cfg}
}

func (l *Limiter) limit(dimension Dimension) int64 {
	switch dimension {
	case DimensionConn:
		return int64(l.cfg.SocketLimit)
	case DimensionRoom:
		return int64(l.cfg.RoomLimit)
	default:
		return int64(l.cfg.HTTPLimit)
	}
}

// Check consumes one unit from the counter of (dimension, subjectId) in the
// current window and reports whether the subject is still within its limit.
// When the store cannot be reached at all the check fails open (or closed,
// per configuration) instead of turning a store outage into a service outage.
func (l *Limiter) Check(ctx context.Context, dimension Dimension, subjectId string) Decision {
	window := l.cfg.Window
	now := time.Now()
	bucket := now.Unix() / int64(window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%d", dimension, subjectId, bucket)
	resetIn := time.Duration(int64(window.Seconds())-(now.Unix()%int64(window.Seconds()))) * time.Second

	count, err := l.store.IncrementWithExpiry(ctx, key, window)
	if err != nil {
		globals.AppLogger.Warn("rate limit counter unavailable", "dimension", dimension, "subject", subjectId, "fail_open", l.cfg.FailOpen, "error", err)
		return Decision{Allowed: l.cfg.FailOpen, Remaining: 0, ResetIn: resetIn}
	}

	limit := l.limit(dimension)
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= limit, Remaining: remaining, ResetIn: resetIn}
}
