// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-docstore/docstore"
)

// memCacheEntry is a single cache entry with its expiry deadline.
type memCacheEntry struct {
	value    []byte
	deadline time.Time
}

// memCache is the in-memory Cache.  Expired entries are reaped lazily,
// on the next operation that touches their key.
type memCache struct {
	sem     sync.Mutex
	clock   clock.Clock
	entries map[string]memCacheEntry
}

// NewCache creates an empty in-memory Cache using the real time
// source.
func NewCache() docstore.Cache {
	return NewCacheWithClock(clock.New())
}

// NewCacheWithClock creates an empty in-memory Cache with an explicit
// time source.  Most application code should call NewCache(); this
// entry point is intended for tests that need to inject a mock clock
// to exercise TTL expiry.
func NewCacheWithClock(clk clock.Clock) docstore.Cache {
	return &memCache{
		clock:   clk,
		entries: make(map[string]memCacheEntry),
	}
}

// live returns the entry for key if it exists and has not expired.
// It assumes the lock, and reaps the entry if it is past its deadline.
func (cache *memCache) live(key string) (memCacheEntry, bool) {
	entry, present := cache.entries[key]
	if !present {
		return memCacheEntry{}, false
	}
	if !cache.clock.Now().Before(entry.deadline) {
		delete(cache.entries, key)
		return memCacheEntry{}, false
	}
	return entry, true
}

func (cache *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cache.sem.Lock()
	defer cache.sem.Unlock()

	entry, present := cache.live(key)
	if !present {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (cache *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cache.sem.Lock()
	defer cache.sem.Unlock()

	cache.entries[key] = memCacheEntry{
		value:    append([]byte(nil), value...),
		deadline: cache.clock.Now().Add(ttl),
	}
	return nil
}

func (cache *memCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cache.sem.Lock()
	defer cache.sem.Unlock()

	if _, present := cache.live(key); present {
		return false, nil
	}
	cache.entries[key] = memCacheEntry{
		value:    append([]byte(nil), value...),
		deadline: cache.clock.Now().Add(ttl),
	}
	return true, nil
}

func (cache *memCache) Delete(ctx context.Context, key string) error {
	cache.sem.Lock()
	defer cache.sem.Unlock()

	delete(cache.entries, key)
	return nil
}
