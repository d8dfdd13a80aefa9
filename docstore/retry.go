// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package docstore

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryPolicy bounds how hard a caller works through transient backend
// failures.  The zero value is usable and picks the defaults below;
// interactive callers will want a tighter MaxElapsed than background
// jobs, which is why this is configuration and not constants.
type RetryPolicy struct {
	// MaxAttempts is the number of tries, counting the first.
	// Defaults to 5.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.  Each
	// subsequent wait doubles, up to MaxBackoff.  Defaults to
	// 50 milliseconds.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait.  Defaults to 2 seconds.
	MaxBackoff time.Duration
}

// withDefaults fills in zero fields.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 50 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 2 * time.Second
	}
	return p
}

// Run calls op, retrying transient failures (see IsTransient) with
// exponential backoff and jitter until one of: op succeeds; op fails
// with a definite error, which is returned as-is; the attempt budget is
// spent, in which case an ErrBackendUnavailable wrapping the last
// failure is returned; or ctx is canceled.
//
// Waits run on the provided clock so tests can drive them with a mock.
func (p RetryPolicy) Run(ctx context.Context, clk clock.Clock, op func() error) error {
	p = p.withDefaults()
	backoff := p.InitialBackoff
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, clk, jitter(backoff)); err != nil {
				return err
			}
			backoff *= 2
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		last = err
	}
	return ErrBackendUnavailable{Last: last}
}

// jitter spreads a wait over [d/2, d) so that a crowd of workers
// backing off from the same incident does not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// sleep waits on the clock, or returns early if the context ends.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
