// Package retry runs an operation again with exponential backoff until it
// succeeds, its attempts run out, or the context is cancelled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls the delay between attempts.
type Policy struct {
	// Base is the delay after the first failure; it doubles each time.
	Base time.Duration
	// Max caps a single delay.
	Max time.Duration
}

// DefaultPolicy waits 200ms, 400ms, 800ms ... up to 5s.
var DefaultPolicy = Policy{Base: 200 * time.Millisecond, Max: 5 * time.Second}

// Backoff returns the delay before attempt n+1, given n failed attempts.
func (p Policy) Backoff(n int) time.Duration {
	base := p.Base
	if base <= 0 {
		return 0
	}
	shift := n - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	d := base * time.Duration(1<<shift)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn up to attempts times with DefaultPolicy.
func Do(ctx context.Context, attempts int, fn func(context.Context) error) error {
	return DoWithPolicy(ctx, DefaultPolicy, attempts, fn)
}

// DoWithPolicy calls fn until it returns nil, returns a Permanent error, or
// attempts are exhausted. Cancellation of ctx stops the loop and is returned.
// attempts below 1 are treated as 1.
func DoWithPolicy(ctx context.Context, p Policy, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if i == attempts {
			break
		}

		timer := time.NewTimer(p.Backoff(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
