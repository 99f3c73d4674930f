package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/tcriess/lightspeed-sync/limiter"
)

// ClientIP extracts the client address, preferring the X-Forwarded-For /
// X-Real-IP headers a reverse proxy sets.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit wraps a handler with the per-IP request limit for the given
// dimension. Store outages inside the limiter fail open by configuration, so
// this middleware never turns an infrastructure problem into a hard outage.
func RateLimit(l *limiter.Limiter, dimension limiter.Dimension, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := l.Check(r.Context(), dimension, ClientIP(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(decision.ResetIn.Seconds()), 10))
		if !decision.Allowed {
			writeErrorCode(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
