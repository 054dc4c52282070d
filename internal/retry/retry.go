// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds the retry loop. MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Do runs op until it succeeds, returns a permanent error, exhausts the policy,
// or ctx is done. The last error is returned wrapped with the operation name.
func Do(ctx context.Context, p Policy, name string, transient Classifier, op func(ctx context.Context) error) error {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		}
		if transient == nil || !transient(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt >= p.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, p.MaxRetries, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}
