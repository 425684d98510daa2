package common

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiter tracks request weight reported by the venue.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
	log           *zap.Logger
}

// NewRateLimiter creates a new rate limiter.
// limit: maximum weight allowed (e.g., 1200 for spot)
// resetInterval: time window (e.g., 1 minute)
func NewRateLimiter(limit int, resetInterval time.Duration, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           log,
	}
}

// UpdateFromHeader updates the used weight from API response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}

	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		rl.log.Error("rate limit critical, approaching ban threshold",
			zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit), zap.Float64("pct", percentage))
	} else if percentage >= 80 {
		rl.log.Warn("rate limit warning",
			zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit), zap.Float64("pct", percentage))
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}

	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}

// Remaining returns how long until the current weight window resets.
func (rl *RateLimiter) Remaining() time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	left := rl.resetInterval - time.Since(rl.lastReset)
	if left < 0 {
		return 0
	}
	return left
}
