// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package container

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestLRUGetPut(t *testing.T) {
	cache := newLRU(4, time.Minute, clock.NewMock())

	_, present := cache.Get("a")
	assert.False(t, present)

	cache.Put("a", []byte("one"))
	value, present := cache.Get("a")
	if assert.True(t, present) {
		assert.Equal(t, []byte("one"), value)
	}

	cache.Put("a", []byte("two"))
	value, present = cache.Get("a")
	if assert.True(t, present) {
		assert.Equal(t, []byte("two"), value)
	}
}

func TestLRUEviction(t *testing.T) {
	cache := newLRU(2, time.Minute, clock.NewMock())
	cache.Put("a", []byte("a"))
	cache.Put("b", []byte("b"))

	// Touch "a" so "b" is the eviction candidate.
	_, present := cache.Get("a")
	assert.True(t, present)

	cache.Put("c", []byte("c"))

	_, present = cache.Get("a")
	assert.True(t, present)
	_, present = cache.Get("b")
	assert.False(t, present)
	_, present = cache.Get("c")
	assert.True(t, present)
}

func TestLRUExpiry(t *testing.T) {
	clk := clock.NewMock()
	cache := newLRU(4, 5*time.Second, clk)
	cache.Put("a", []byte("a"))

	clk.Add(4 * time.Second)
	_, present := cache.Get("a")
	assert.True(t, present)

	clk.Add(2 * time.Second)
	_, present = cache.Get("a")
	assert.False(t, present)
}

func TestLRUPutRefreshesDeadline(t *testing.T) {
	clk := clock.NewMock()
	cache := newLRU(4, 5*time.Second, clk)
	cache.Put("a", []byte("a"))

	clk.Add(4 * time.Second)
	cache.Put("a", []byte("a2"))

	clk.Add(4 * time.Second)
	value, present := cache.Get("a")
	if assert.True(t, present) {
		assert.Equal(t, []byte("a2"), value)
	}
}

func TestLRURemove(t *testing.T) {
	cache := newLRU(4, time.Minute, clock.NewMock())
	cache.Put("a", []byte("a"))
	cache.Remove("a")
	_, present := cache.Get("a")
	assert.False(t, present)

	// Removing an absent key is fine.
	cache.Remove("nope")
}
