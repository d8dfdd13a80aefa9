// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package cachelock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-docstore/cachelock"
	"github.com/diffeo/go-docstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	m := cachelock.New(memory.NewCache())
	ctx := context.Background()

	token, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// A second acquire is denied, not an error.
	other, err := m.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.Empty(t, other)

	m.Release(ctx, "k", token)
	other, err = m.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.NotEmpty(t, other)
}

func TestReleaseRequiresOwnership(t *testing.T) {
	m := cachelock.New(memory.NewCache())
	ctx := context.Background()

	token, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// A stale or bogus token must not free the current holder's
	// lock.
	m.Release(ctx, "k", "not-the-token")
	other, err := m.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.Empty(t, other)
}

func TestLockExpires(t *testing.T) {
	clk := clock.NewMock()
	m := cachelock.NewWithClock(memory.NewCacheWithClock(clk), clk)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// While the TTL runs the lock stays held.
	clk.Add(29 * time.Second)
	other, err := m.Acquire(ctx, "k", 30*time.Second)
	assert.NoError(t, err)
	assert.Empty(t, other)

	// A crashed holder's lock frees itself at the TTL.
	clk.Add(2 * time.Second)
	other, err = m.Acquire(ctx, "k", 30*time.Second)
	assert.NoError(t, err)
	assert.NotEmpty(t, other)
}

func TestDoSingleFlight(t *testing.T) {
	cache := memory.NewCache()
	ctx := context.Background()
	var calls int32

	const racers = 10
	results := make([][]byte, racers)
	wg := sync.WaitGroup{}
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			m := cachelock.New(cache)
			m.Rounds = 100
			m.Wait = 20 * time.Millisecond
			value, err := m.Do(ctx, "expensive", time.Minute, time.Minute, func(context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(5 * time.Millisecond)
				return []byte("the answer"), nil
			})
			assert.NoError(t, err)
			results[i] = value
		}(i)
	}
	wg.Wait()

	// Exactly one racer computed; everybody got its value.
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for i := 0; i < racers; i++ {
		assert.Equal(t, []byte("the answer"), results[i])
	}
}

func TestDoServesCachedValue(t *testing.T) {
	cache := memory.NewCache()
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", []byte("cached"), time.Minute))

	m := cachelock.New(cache)
	value, err := m.Do(ctx, "k", time.Minute, time.Minute, func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run for a cached key")
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("cached"), value)
}

func TestDoComputesWhenLockStuck(t *testing.T) {
	cache := memory.NewCache()
	ctx := context.Background()

	// Simulate a holder that died without releasing.
	holder := cachelock.New(cache)
	token, err := holder.Acquire(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	m := cachelock.New(cache)
	m.Rounds = 2
	m.Wait = time.Millisecond
	value, err := m.Do(ctx, "k", time.Minute, time.Minute, func(context.Context) ([]byte, error) {
		return []byte("computed anyway"), nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("computed anyway"), value)

	// The unlocked computation must not publish over the lock
	// holder's pending value.
	_, present, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, present)
}

func TestDoComputeErrorFreesLock(t *testing.T) {
	cache := memory.NewCache()
	ctx := context.Background()

	m := cachelock.New(cache)
	_, err := m.Do(ctx, "k", time.Minute, time.Minute, func(context.Context) ([]byte, error) {
		return nil, assert.AnError
	})
	assert.Equal(t, assert.AnError, err)

	// The failed computation's lock is gone, not stuck for a TTL.
	token, err := m.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}
