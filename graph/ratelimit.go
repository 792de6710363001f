package graph

import (
	"context"
	"sync"
	"time"
)

// rateLimiter serializes extractor calls to at most rpm requests per minute,
// per orig §4.3's batch-mode requirement ("serialized, <=60 req/min, >=1s
// inter-request"). A zero-value rateLimiter (rpm<=0) never blocks.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateLimiter(rpm int) *rateLimiter {
	if rpm <= 0 {
		return &rateLimiter{}
	}
	interval := time.Minute / time.Duration(rpm)
	if interval < time.Second {
		interval = time.Second
	}
	return &rateLimiter{interval: interval}
}

// Wait blocks until the next call is allowed, or ctx is done.
func (r *rateLimiter) Wait(ctx context.Context) error {
	if r.interval == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wait := time.Until(r.last.Add(r.interval))
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.last = time.Now()
	return nil
}

// withRetry retries fn up to maxAttempts times with exponential backoff
// (baseSeconds * 2^attempt), used to wrap extractor LLM calls. It retries
// any error fn returns; errors are not classified as transient or permanent.
func withRetry(ctx context.Context, maxAttempts int, baseSeconds float64, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		backoff := time.Duration(baseSeconds * float64(int(1)<<uint(attempt)) * float64(time.Second))
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		t.Stop()
	}
	return err
}
