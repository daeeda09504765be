package handler

import (
	"context"
	"math/rand"
	"time"
)

const maxJitter = time.Second

// jitter is a seam so tests can collapse the randomized delay.
var jitter = func() time.Duration {
	return time.Duration(rand.Int63n(int64(maxJitter)))
}

// Retry invokes op up to maxRetries times, sleeping between attempts
// with exponential backoff plus up to one second of random jitter
// (delay = baseDelay * 2^attempt + jitter). Unlike WrapSync/WrapAsync,
// exhausting every attempt re-raises the last error to the caller.
// Context cancellation aborts the wait and returns ctx.Err().
func (h *Handler) Retry(ctx context.Context, op func(context.Context) error, maxRetries int, baseDelay time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay*(1<<attempt) + jitter()
		h.log.Debug("retrying operation",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
