// Package retry provides bounded exponential backoff for calls to external
// collaborators (quote API, Redis lock acquisition).
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures Do.
type Policy struct {
	Attempts  int           // total attempts including the first; < 1 means 1
	BaseDelay time.Duration // delay before the second attempt
	MaxDelay  time.Duration // cap for any single delay
}

// DefaultPolicy is used by the quote client.
var DefaultPolicy = Policy{
	Attempts:  3,
	BaseDelay: 200 * time.Millisecond,
	MaxDelay:  2 * time.Second,
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Backoff returns the delay before retry number n (0-based):
// base * 2^n, capped at max. Negative n yields base.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		return base
	}
	// 2^30 * base overflows any sane cap.
	if n > 30 {
		return max
	}
	d := base * time.Duration(1<<n)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(Backoff(i, p.BaseDelay, p.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
