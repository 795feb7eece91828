// Package ratelimit paces Mega API requests with a token bucket so a batch
// of concurrent downloads does not trip the server's ERATELIMIT (-4) answer.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/megadl/internal/logging"
)

// Long waits are logged at warn level, at most once per warnEvery.
const (
	warnAfter = 2 * time.Second
	warnEvery = 10 * time.Second
)

// RateLimiter is a token bucket holding up to burst tokens, refilled at
// rate tokens per second. Penalize empties it and holds every caller for
// a cooldown.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       float64
	burst        float64
	rate         float64
	last         time.Time // last refill
	blockedUntil time.Time
	lastWarn     time.Time

	now    func() time.Time
	logger *logging.Logger
}

// NewRateLimiter creates a limiter that starts with a full bucket.
func NewRateLimiter(tokensPerSecond, burstSize float64, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	rl := &RateLimiter{
		tokens: burstSize,
		burst:  burstSize,
		rate:   tokensPerSecond,
		now:    time.Now,
		logger: logger,
	}
	rl.last = rl.now()
	return rl
}

// Wait blocks until a token is taken or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := rl.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := rl.reserve()
		if delay <= 0 {
			if waited := rl.now().Sub(start); waited > warnAfter {
				rl.logger.Debug().Dur("waited", waited).Msg("API pacing wait completed")
			}
			return nil
		}
		rl.warnLongWait(delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Drain empties the bucket so callers wait for tokens to refill.
func (rl *RateLimiter) Drain() {
	rl.Penalize(0)
}

// Penalize empties the bucket and blocks callers for cooldown. Used when
// the server answers ERATELIMIT.
func (rl *RateLimiter) Penalize(cooldown time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.refill(now)
	rl.tokens = 0
	if until := now.Add(cooldown); until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
}

// Tokens reports the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(rl.now())
	return rl.tokens
}

// reserve takes a token and returns 0, or returns how long to wait before
// trying again.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now)
	}
	rl.refill(now)
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	if rl.rate <= 0 {
		return warnEvery
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// refill adds tokens for the time since the last refill. Caller holds mu.
func (rl *RateLimiter) refill(now time.Time) {
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.tokens = min(rl.burst, rl.tokens+elapsed.Seconds()*rl.rate)
	}
	rl.last = now
}

func (rl *RateLimiter) warnLongWait(delay time.Duration) {
	if delay <= warnAfter {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now := rl.now(); now.Sub(rl.lastWarn) > warnEvery {
		rl.logger.Warn().Dur("wait", delay).Msg("Rate limited: waiting for Mega API capacity")
		rl.lastWarn = now
	}
}
