package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFakeLimiter(rate, burst float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(rate, burst, nil)
	rl.now = clock.Now
	rl.last = clock.Now()
	return rl, clock
}

func TestReserve_BurstThenPaced(t *testing.T) {
	rl, clock := newFakeLimiter(4, 8)

	for i := 0; i < 8; i++ {
		if d := rl.reserve(); d != 0 {
			t.Fatalf("request %d within burst delayed by %v", i+1, d)
		}
	}
	if d := rl.reserve(); d != 250*time.Millisecond {
		t.Errorf("delay after burst = %v, want 250ms at 4/s", d)
	}

	clock.Advance(250 * time.Millisecond)
	if d := rl.reserve(); d != 0 {
		t.Errorf("token not refilled after 250ms, delay %v", d)
	}
}

func TestTokens_RefillCapsAtBurst(t *testing.T) {
	rl, clock := newFakeLimiter(10, 5)
	for i := 0; i < 5; i++ {
		rl.reserve()
	}
	if got := rl.Tokens(); got != 0 {
		t.Errorf("Tokens() after burst = %.2f, want 0", got)
	}

	clock.Advance(200 * time.Millisecond)
	if got := rl.Tokens(); got < 1.99 || got > 2.01 {
		t.Errorf("Tokens() after 200ms at 10/s = %.2f, want 2", got)
	}

	clock.Advance(time.Hour)
	if got := rl.Tokens(); got != 5 {
		t.Errorf("Tokens() should cap at burst, got %.2f", got)
	}
}

func TestPenalize_HoldsCallersForCooldown(t *testing.T) {
	rl, clock := newFakeLimiter(100, 10)

	rl.Penalize(3 * time.Second)
	if got := rl.Tokens(); got != 0 {
		t.Errorf("Tokens() after Penalize = %.2f, want 0", got)
	}
	if d := rl.reserve(); d != 3*time.Second {
		t.Errorf("delay during cooldown = %v, want 3s", d)
	}

	// A shorter penalty does not cut the current cooldown short.
	rl.Penalize(time.Second)
	clock.Advance(2 * time.Second)
	if d := rl.reserve(); d != time.Second {
		t.Errorf("delay with 1s of cooldown left = %v", d)
	}

	clock.Advance(time.Second)
	if d := rl.reserve(); d != 0 {
		t.Errorf("cooldown over and bucket refilled, still delayed %v", d)
	}
}

func TestDrain_EmptiesWithoutCooldown(t *testing.T) {
	rl, clock := newFakeLimiter(10, 5)
	rl.Drain()

	if d := rl.reserve(); d != 100*time.Millisecond {
		t.Errorf("delay after Drain = %v, want 100ms", d)
	}
	clock.Advance(100 * time.Millisecond)
	if d := rl.reserve(); d != 0 {
		t.Errorf("delay after refill = %v", d)
	}
}

func TestReserve_ZeroRate(t *testing.T) {
	rl, _ := newFakeLimiter(0, 1)
	rl.reserve()
	if d := rl.reserve(); d <= 0 {
		t.Errorf("empty bucket with no refill should delay, got %v", d)
	}
}

func TestWait_BlocksUntilTokenAvailable(t *testing.T) {
	rl := NewRateLimiter(10, 1, nil)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("Wait() took %v, expected ~100ms", elapsed)
	}
}

func TestWait_RespectsContext(t *testing.T) {
	rl := NewRateLimiter(10, 1, nil)
	rl.Penalize(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := rl.Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() on cancelled context = %v", err)
	}
}

func TestWait_ConcurrentCallers(t *testing.T) {
	rl := NewRateLimiter(50, 5, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var acquired atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(ctx); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	// 5 burst + 15 refilled at 50/s fits well inside the deadline.
	if acquired.Load() != 20 {
		t.Errorf("acquired %d tokens, want 20", acquired.Load())
	}
}
