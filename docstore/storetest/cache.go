// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package storetest

import (
	"time"
)

// key returns a cache key unique to the running test.
func (s *CacheSuite) key(suffix string) string {
	return "storetest/" + s.T().Name() + "/" + suffix
}

// TestGetMiss reads a key that was never set.
func (s *CacheSuite) TestGetMiss() {
	_, present, err := s.Cache.Get(ctx(), s.key("absent"))
	s.NoError(err)
	s.False(present)
}

// TestSetGet stores a value and reads it back.
func (s *CacheSuite) TestSetGet() {
	err := s.Cache.Set(ctx(), s.key("a"), []byte("value"), time.Minute)
	s.Require().NoError(err)

	value, present, err := s.Cache.Get(ctx(), s.key("a"))
	if s.NoError(err) && s.True(present) {
		s.Equal([]byte("value"), value)
	}
}

// TestSetOverwrites checks that Set replaces an existing entry.
func (s *CacheSuite) TestSetOverwrites() {
	s.Require().NoError(s.Cache.Set(ctx(), s.key("a"), []byte("one"), time.Minute))
	s.Require().NoError(s.Cache.Set(ctx(), s.key("a"), []byte("two"), time.Minute))

	value, present, err := s.Cache.Get(ctx(), s.key("a"))
	if s.NoError(err) && s.True(present) {
		s.Equal([]byte("two"), value)
	}
}

// TestExpiry checks that entries disappear when their TTL elapses.
func (s *CacheSuite) TestExpiry() {
	s.Require().NoError(s.Cache.Set(ctx(), s.key("a"), []byte("value"), time.Minute))

	s.Clock.Add(59 * time.Second)
	_, present, err := s.Cache.Get(ctx(), s.key("a"))
	s.NoError(err)
	s.True(present)

	s.Clock.Add(2 * time.Second)
	_, present, err = s.Cache.Get(ctx(), s.key("a"))
	s.NoError(err)
	s.False(present)
}

// TestDelete removes an entry, and tolerates removing it twice.
func (s *CacheSuite) TestDelete() {
	s.Require().NoError(s.Cache.Set(ctx(), s.key("a"), []byte("value"), time.Minute))
	s.Require().NoError(s.Cache.Delete(ctx(), s.key("a")))

	_, present, err := s.Cache.Get(ctx(), s.key("a"))
	s.NoError(err)
	s.False(present)

	s.NoError(s.Cache.Delete(ctx(), s.key("a")))
}

// TestSetIfAbsent checks the atomic create-if-missing primitive.
func (s *CacheSuite) TestSetIfAbsent() {
	created, err := s.Cache.SetIfAbsent(ctx(), s.key("lock"), []byte("me"), time.Minute)
	s.NoError(err)
	s.True(created)

	created, err = s.Cache.SetIfAbsent(ctx(), s.key("lock"), []byte("you"), time.Minute)
	s.NoError(err)
	s.False(created)

	// The loser must not have overwritten the winner's value.
	value, present, err := s.Cache.Get(ctx(), s.key("lock"))
	if s.NoError(err) && s.True(present) {
		s.Equal([]byte("me"), value)
	}
}

// TestSetIfAbsentAfterExpiry checks that an expired entry no longer
// blocks SetIfAbsent.
func (s *CacheSuite) TestSetIfAbsentAfterExpiry() {
	created, err := s.Cache.SetIfAbsent(ctx(), s.key("lock"), []byte("me"), time.Second)
	s.Require().NoError(err)
	s.Require().True(created)

	s.Clock.Add(2 * time.Second)

	created, err = s.Cache.SetIfAbsent(ctx(), s.key("lock"), []byte("you"), time.Minute)
	s.NoError(err)
	s.True(created)
}
