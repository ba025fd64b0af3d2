package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"webproxy/internal/store"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least one.
func (d Decision) RetryAfter(now time.Time) int64 {
	return max(int64(math.Ceil(d.Reset.Sub(now).Seconds())), 1)
}

// FixedWindow counts requests per identity per calendar minute.
type FixedWindow struct {
	counter store.Counter
	limit   int64
	now     func() time.Time
}

// NewFixedWindow allows perMinute requests per identity per minute.
func NewFixedWindow(counter store.Counter, perMinute int) *FixedWindow {
	return &FixedWindow{
		counter: counter,
		limit:   int64(perMinute),
		now:     time.Now,
	}
}

// Allow charges one request to identity. It returns ErrRateLimited once the
// window's ceiling is passed. Any other error comes from the counter store.
func (f *FixedWindow) Allow(ctx context.Context, identity string) (Decision, error) {
	now := f.now()
	bucket := now.Unix() / 60
	reset := time.Unix((bucket+1)*60, 0)
	d := Decision{Limit: f.limit, Remaining: f.limit, Reset: reset}

	key := fmt.Sprintf("rl:%s:%d", identity, bucket)
	n, err := f.counter.Incr(ctx, key, reset.Sub(now)+time.Minute)
	if err != nil {
		return d, fmt.Errorf("rate limit counter: %w", err)
	}

	d.Remaining = max(f.limit-n, 0)
	if n > f.limit {
		return d, ErrRateLimited
	}
	return d, nil
}

// Now returns the limiter's clock reading.
func (f *FixedWindow) Now() time.Time { return f.now() }
