// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package cachelock implements a cooperative, best-effort lock on top
// of the shared cache, and a lock-guarded memoized computation built on
// it.
//
// The lock exists to suppress duplicate work, not to guard
// correctness: it relies on the cache's atomic set-if-absent, its TTL
// is the only liveness guarantee against a crashed holder, and a cache
// eviction can hand the lock to a second owner.  Anything whose
// correctness depends on mutual exclusion belongs on the backing
// store's compare-and-swap instead.
//
// Do is the intended consumer: many processes race to produce an
// expensive cacheable value, one of them computes it while the rest
// poll the cache, and everybody comes back with the same bytes.
package cachelock

import (
	"bytes"
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-docstore/docstore"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultRounds = 8
	defaultWait   = 100 * time.Millisecond
)

// Manager hands out cache-backed locks.  The zero value is not usable;
// construct one with New.
type Manager struct {
	cache docstore.Cache
	clock clock.Clock

	// Rounds bounds how many acquire-or-wait cycles Do runs before
	// giving up on the lock and computing anyway.  Defaults to 8.
	Rounds int

	// Wait is the base delay between Do's rounds; actual delays are
	// jittered around it.  Defaults to 100ms.
	Wait time.Duration
}

// New creates a lock manager over a shared cache.
func New(cache docstore.Cache) *Manager {
	return NewWithClock(cache, clock.New())
}

// NewWithClock creates a lock manager with an explicit time source.
// This is intended for tests.
func NewWithClock(cache docstore.Cache, clk clock.Clock) *Manager {
	return &Manager{
		cache:  cache,
		clock:  clk,
		Rounds: defaultRounds,
		Wait:   defaultWait,
	}
}

// lockKey namespaces lock entries away from ordinary cached values.
func lockKey(key string) string {
	return "lock:" + key
}

// Acquire tries to take the lock named key for at most ttl.  On
// success it returns an owner token to pass to Release.  An empty
// token with a nil error means somebody else holds the lock.  Cache
// failures deny the lock rather than granting it, so a broken cache
// degrades to duplicate work, never to two owners believing the cache
// endorsed them both.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewV4().String()
	stored, err := m.cache.SetIfAbsent(ctx, lockKey(key), []byte(token), ttl)
	if err != nil {
		tickAcquire("error")
		logrus.WithFields(logrus.Fields{
			"key": key,
			"err": err,
		}).Warn("Cache failure acquiring lock")
		return "", err
	}
	if !stored {
		tickAcquire("contended")
		return "", nil
	}
	tickAcquire("acquired")
	return token, nil
}

// Release frees the lock named key, but only if token still owns it.
// Releasing a lock that expired and was re-acquired by someone else is
// a no-op, so a slow holder cannot free its successor's lock.  Release
// is best effort; worst case the lock lingers until its TTL.
func (m *Manager) Release(ctx context.Context, key, token string) {
	current, present, err := m.cache.Get(ctx, lockKey(key))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"key": key,
			"err": err,
		}).Warn("Cache failure releasing lock")
		return
	}
	if !present || !bytes.Equal(current, []byte(token)) {
		return
	}
	if err := m.cache.Delete(ctx, lockKey(key)); err != nil {
		logrus.WithFields(logrus.Fields{
			"key": key,
			"err": err,
		}).Warn("Cache failure releasing lock")
	}
}

// Do returns the cached value at key, computing and caching it under
// the lock if it is absent.  Concurrent callers for the same key
// converge on a single computation: one of them wins the lock and
// computes, the rest poll the cache and pick up the published value.
//
// The lock is advisory.  If it cannot be won within the round budget,
// perhaps because a holder crashed and its TTL has not run out, Do
// computes the value anyway without caching it; returning duplicate
// work beats returning nothing.
func (m *Manager) Do(ctx context.Context, key string, lockTTL, valueTTL time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	for round := 0; round < m.Rounds; round++ {
		value, present, err := m.cache.Get(ctx, key)
		if err == nil && present {
			return value, nil
		}

		token, err := m.Acquire(ctx, key, lockTTL)
		if err == nil && token != "" {
			// Check again under the lock; the previous holder
			// may have published between our miss and our
			// acquire.
			value, present, err := m.cache.Get(ctx, key)
			if err == nil && present {
				m.Release(ctx, key, token)
				return value, nil
			}

			value, err = compute(ctx)
			if err != nil {
				m.Release(ctx, key, token)
				return nil, err
			}
			if err := m.cache.Set(ctx, key, value, valueTTL); err != nil {
				logrus.WithFields(logrus.Fields{
					"key": key,
					"err": err,
				}).Warn("Could not publish computed value")
			}
			m.Release(ctx, key, token)
			return value, nil
		}

		if err := m.sleep(ctx); err != nil {
			return nil, err
		}
	}

	// The lock never came free.  Duplicate the work rather than
	// stall behind a dead holder; the eventual lock winner owns the
	// cache entry, so do not publish over it.
	tickUnlockedCompute()
	return compute(ctx)
}

// sleep waits one jittered round, or until the context ends.
func (m *Manager) sleep(ctx context.Context) error {
	wait := m.Wait
	if wait <= 0 {
		wait = defaultWait
	}
	wait = wait/2 + time.Duration(rand.Int63n(int64(wait)))
	select {
	case <-m.clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
