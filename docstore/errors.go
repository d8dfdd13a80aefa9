// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned from read and delete operations when no
// entity or blob exists with the requested key.  Higher layers
// generally translate this into a nil document rather than an error,
// since "does not exist" is a normal outcome.
var ErrNotFound = errors.New("No such entity")

// ErrAlreadyExists is returned from insert operations when an entity
// already exists with the requested key.  It is a definite failure and
// is never retried.
var ErrAlreadyExists = errors.New("Entity already exists")

// ErrVersionMismatch is returned from ReplaceEntity when the stored
// version differs from the expected one.  The container update loop
// absorbs this by re-reading and retrying; callers outside that loop
// should treat it as "somebody else got there first".
var ErrVersionMismatch = errors.New("Entity version mismatch")

// ErrConcurrencyExhausted is returned from container updates that
// retried past their attempt bound without ever winning the
// compare-and-swap.  The operation must be considered not applied.
var ErrConcurrencyExhausted = errors.New("Too many concurrent updates")

// ErrThrottled indicates the backend rejected a call due to load.  It
// is transient; see IsTransient.
var ErrThrottled = errors.New("Backend throttled the request")

// ErrUnavailable indicates the backend could not be reached or failed
// in a way that is expected to heal.  It is transient; see IsTransient.
var ErrUnavailable = errors.New("Backend temporarily unavailable")

// ErrBackendUnavailable is returned when a retry budget was spent
// entirely on transient failures.  It wraps the last failure.
type ErrBackendUnavailable struct {
	// Last is the final transient error observed before giving up.
	Last error
}

func (err ErrBackendUnavailable) Error() string {
	return fmt.Sprintf("Backend unavailable after retries: %v", err.Last)
}

func (err ErrBackendUnavailable) Unwrap() error {
	return err.Last
}

// IsTransient reports whether an error is worth retrying with backoff.
// Errors from the deadline machinery (context timeouts) count as
// transient; cancellation does not, since the caller asked to stop.
func IsTransient(err error) bool {
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
