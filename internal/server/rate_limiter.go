// Package server implements a token bucket rate limiter for per-connection
// throttling that protects the durable store from abuse.
package server

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Tyrowin/duochat/internal/config"
)

// newRateLimiter returns a bucket holding Burst tokens that refills Burst
// tokens every RefillInterval.
func newRateLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	capacity := cfg.Burst
	if capacity <= 0 {
		capacity = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(capacity)/interval.Seconds()), capacity)
}

// rateLimited reports whether an event counts against the connection's bucket.
// Only events that reach the durable store are limited.
func rateLimited(event string) bool {
	switch event {
	case "message:send", "message:markRead":
		return true
	}
	return false
}
