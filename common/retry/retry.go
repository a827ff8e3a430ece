// Package retry re-runs an operation with exponential backoff until it
// succeeds, returns a permanent error, or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how often and how patiently an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	// Values below 1 mean a single call.
	Attempts int
	// Base is the wait before the second call. It doubles after every
	// failure up to Cap.
	Base time.Duration
	Cap  time.Duration
}

// Default suits a single outbound chat message.
var Default = Policy{
	Attempts: 3,
	Base:     250 * time.Millisecond,
	Cap:      5 * time.Second,
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op until it returns nil or the policy is exhausted. The error of
// the final call is returned, joined with ctx.Err() when the context ended
// the loop early.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Base <= 0 {
		p.Base = Default.Base
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}

	wait := p.Base
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Join(err, cerr)
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= p.Attempts {
			return err
		}

		slog.Debug("retrying after failure", "attempt", attempt, "of", p.Attempts, "wait", wait, "err", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		wait *= 2
		if wait > p.Cap {
			wait = p.Cap
		}
	}
}
