package backend

import (
	"context"
	"time"
)

// RetryPolicy is caller-supplied per-invocation retry configuration.
// The zero value performs a single attempt with no retries, which is the
// default behavior everywhere: a failure propagates immediately unless the
// caller opted in to retrying.
type RetryPolicy struct {
	// Attempts is the total number of attempts (not retries); values
	// below 1 are treated as 1.
	Attempts int
	// Backoff is the delay before each retry, doubled after every
	// failed attempt.
	Backoff time.Duration
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.Backoff
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
