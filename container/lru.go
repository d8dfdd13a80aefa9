// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package container

// This file provides a simple LRU cache with per-entry expiry.  I know
// of several standalone implementations, though it is a pretty simple
// concept; none of the ones I've looked at combine size-bounded
// eviction with a hard TTL, and the TTL is what bounds the staleness
// window a single process can observe, so it is not optional here.

import (
	"container/list"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// lruEntry is a single cached value and its expiry deadline.
type lruEntry struct {
	key      string
	value    []byte
	deadline time.Time
}

// lru is a least-recently-used cache with a fixed capacity and a fixed
// TTL.  The cache can be safely accessed from multiple goroutines.
type lru struct {
	size      int
	ttl       time.Duration
	clock     clock.Clock
	lock      sync.Mutex
	evictList *list.List
	index     map[string]*list.Element
}

func newLRU(size int, ttl time.Duration, clk clock.Clock) *lru {
	return &lru{
		size:      size,
		ttl:       ttl,
		clock:     clk,
		evictList: list.New(),
		index:     make(map[string]*list.Element),
	}
}

// Get retrieves an item from the cache.  An item past its deadline is
// removed and reported as a miss.
func (lru *lru) Get(key string) ([]byte, bool) {
	// This happens under a writer lock, since we need to move the
	// item to the front of the list if it is present
	lru.lock.Lock()
	defer lru.lock.Unlock()

	element, present := lru.index[key]
	if !present {
		return nil, false
	}
	entry := element.Value.(lruEntry)
	if !lru.clock.Now().Before(entry.deadline) {
		delete(lru.index, key)
		lru.evictList.Remove(element)
		return nil, false
	}
	lru.evictList.MoveToBack(element)
	return entry.value, true
}

// Put adds an item to the cache with a fresh deadline, possibly
// evicting something.
func (lru *lru) Put(key string, value []byte) {
	lru.lock.Lock()
	defer lru.lock.Unlock()

	entry := lruEntry{
		key:      key,
		value:    value,
		deadline: lru.clock.Now().Add(lru.ttl),
	}

	// Are we just updating an existing item?
	if element, present := lru.index[key]; present {
		element.Value = entry
		lru.evictList.MoveToBack(element)
		return
	}

	// Otherwise add it
	element := lru.evictList.PushBack(entry)
	lru.index[key] = element

	// If this caused the cache to go over size, start evicting items
	for len(lru.index) > lru.size {
		head := lru.evictList.Front()
		victim := head.Value.(lruEntry)
		delete(lru.index, victim.key)
		lru.evictList.Remove(head)
	}
}

// Remove takes an item out of the cache.  It does nothing if that key
// does not exist.
func (lru *lru) Remove(key string) {
	lru.lock.Lock()
	defer lru.lock.Unlock()

	if element, present := lru.index[key]; present {
		delete(lru.index, key)
		lru.evictList.Remove(element)
	}
}
