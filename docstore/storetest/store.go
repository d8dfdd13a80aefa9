// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package storetest

import (
	"fmt"

	"github.com/diffeo/go-docstore/docstore"
)

// partition returns a partition key unique to the running test, so
// suites can run against shared persistent backends.
func (s *StoreSuite) partition() string {
	return "storetest/" + s.T().Name()
}

// entity builds an entity in the test's partition.
func (s *StoreSuite) entity(rowKey, body string) docstore.Entity {
	return docstore.Entity{
		PartitionKey: s.partition(),
		RowKey:       rowKey,
		Body:         []byte(body),
	}
}

// mustInsert inserts an entity and fails the test on error.
func (s *StoreSuite) mustInsert(rowKey, body string) docstore.Version {
	version, err := s.Store.InsertEntity(ctx(), s.entity(rowKey, body))
	s.Require().NoError(err)
	s.Require().NotEqual(docstore.NoVersion, version)
	return version
}

// TestGetAbsent retrieves an entity that was never stored.
func (s *StoreSuite) TestGetAbsent() {
	_, err := s.Store.GetEntity(ctx(), s.partition(), "nope")
	s.Equal(docstore.ErrNotFound, err)
}

// TestInsertGet stores an entity and reads it back.
func (s *StoreSuite) TestInsertGet() {
	version := s.mustInsert("a", "body-a")

	entity, err := s.Store.GetEntity(ctx(), s.partition(), "a")
	if s.NoError(err) {
		s.Equal("a", entity.RowKey)
		s.Equal([]byte("body-a"), entity.Body)
		s.Equal(version, entity.Version)
	}
}

// TestInsertDuplicate checks that a second insert with the same key
// fails and leaves the first entity intact.
func (s *StoreSuite) TestInsertDuplicate() {
	s.mustInsert("a", "original")

	_, err := s.Store.InsertEntity(ctx(), s.entity("a", "usurper"))
	s.Equal(docstore.ErrAlreadyExists, err)

	entity, err := s.Store.GetEntity(ctx(), s.partition(), "a")
	if s.NoError(err) {
		s.Equal([]byte("original"), entity.Body)
	}
}

// TestReplace performs a successful compare-and-swap.
func (s *StoreSuite) TestReplace() {
	v1 := s.mustInsert("a", "one")

	v2, err := s.Store.ReplaceEntity(ctx(), s.entity("a", "two"), v1)
	if s.NoError(err) {
		s.NotEqual(v1, v2)
	}

	entity, err := s.Store.GetEntity(ctx(), s.partition(), "a")
	if s.NoError(err) {
		s.Equal([]byte("two"), entity.Body)
		s.Equal(v2, entity.Version)
	}
}

// TestReplaceStaleVersion checks that a compare-and-swap against a
// stale version fails without changing the entity.
func (s *StoreSuite) TestReplaceStaleVersion() {
	v1 := s.mustInsert("a", "one")
	_, err := s.Store.ReplaceEntity(ctx(), s.entity("a", "two"), v1)
	s.Require().NoError(err)

	// v1 is now stale.
	_, err = s.Store.ReplaceEntity(ctx(), s.entity("a", "three"), v1)
	s.Equal(docstore.ErrVersionMismatch, err)

	entity, err := s.Store.GetEntity(ctx(), s.partition(), "a")
	if s.NoError(err) {
		s.Equal([]byte("two"), entity.Body)
	}
}

// TestReplaceAbsent checks that replacing a never-stored entity
// reports not-found, not a version mismatch.
func (s *StoreSuite) TestReplaceAbsent() {
	_, err := s.Store.ReplaceEntity(ctx(), s.entity("ghost", "boo"), docstore.NoVersion)
	s.Equal(docstore.ErrNotFound, err)
}

// TestDelete removes an entity and checks that it is gone.
func (s *StoreSuite) TestDelete() {
	s.mustInsert("a", "body")

	err := s.Store.DeleteEntity(ctx(), s.partition(), "a")
	s.NoError(err)

	_, err = s.Store.GetEntity(ctx(), s.partition(), "a")
	s.Equal(docstore.ErrNotFound, err)

	err = s.Store.DeleteEntity(ctx(), s.partition(), "a")
	s.Equal(docstore.ErrNotFound, err)
}

// TestQueryOrder checks that a range scan returns rows in ascending
// row-key order regardless of insertion order.
func (s *StoreSuite) TestQueryOrder() {
	for _, key := range []string{"c", "a", "d", "b"} {
		s.mustInsert(key, "body-"+key)
	}

	page, err := s.Store.QueryRange(ctx(), docstore.RangeQuery{PartitionKey: s.partition()})
	if s.NoError(err) {
		var keys []string
		for _, entity := range page.Entities {
			keys = append(keys, entity.RowKey)
		}
		s.Equal([]string{"a", "b", "c", "d"}, keys)
		s.Empty(page.Continuation)
	}
}

// TestQueryBounds checks inclusive lower and exclusive upper bounds.
func (s *StoreSuite) TestQueryBounds() {
	for _, key := range []string{"a", "b", "c", "d"} {
		s.mustInsert(key, "x")
	}

	page, err := s.Store.QueryRange(ctx(), docstore.RangeQuery{
		PartitionKey: s.partition(),
		Lower:        "b",
		Upper:        "d",
	})
	if s.NoError(err) {
		var keys []string
		for _, entity := range page.Entities {
			keys = append(keys, entity.RowKey)
		}
		s.Equal([]string{"b", "c"}, keys)
	}
}

// TestQueryPagination walks a partition two rows at a time and checks
// that the pages together cover every row exactly once.
func (s *StoreSuite) TestQueryPagination() {
	const count = 7
	for i := 0; i < count; i++ {
		s.mustInsert(fmt.Sprintf("row-%02d", i), "x")
	}

	var keys []string
	token := ""
	for pages := 0; ; pages++ {
		s.Require().True(pages <= count, "runaway pagination")
		page, err := s.Store.QueryRange(ctx(), docstore.RangeQuery{
			PartitionKey: s.partition(),
			Limit:        2,
			Continuation: token,
		})
		s.Require().NoError(err)
		s.Require().True(len(page.Entities) <= 2)
		for _, entity := range page.Entities {
			keys = append(keys, entity.RowKey)
		}
		if page.Continuation == "" {
			break
		}
		token = page.Continuation
	}

	s.Len(keys, count)
	for i, key := range keys {
		s.Equal(fmt.Sprintf("row-%02d", i), key)
	}
}

// TestQueryEmptyPartition scans a partition that has never been
// written.
func (s *StoreSuite) TestQueryEmptyPartition() {
	page, err := s.Store.QueryRange(ctx(), docstore.RangeQuery{PartitionKey: s.partition()})
	if s.NoError(err) {
		s.Empty(page.Entities)
		s.Empty(page.Continuation)
	}
}

// TestQueryBogusContinuation feeds a corrupt continuation token into a
// range query.
func (s *StoreSuite) TestQueryBogusContinuation() {
	_, err := s.Store.QueryRange(ctx(), docstore.RangeQuery{
		PartitionKey: s.partition(),
		Continuation: "definitely-not-a-token",
	})
	s.Error(err)
}

// TestPartitionsIsolated checks that identical row keys in different
// partitions do not collide.
func (s *StoreSuite) TestPartitionsIsolated() {
	other := s.partition() + "/other"
	s.mustInsert("a", "mine")
	_, err := s.Store.InsertEntity(ctx(), docstore.Entity{
		PartitionKey: other,
		RowKey:       "a",
		Body:         []byte("theirs"),
	})
	s.Require().NoError(err)

	entity, err := s.Store.GetEntity(ctx(), s.partition(), "a")
	if s.NoError(err) {
		s.Equal([]byte("mine"), entity.Body)
	}
	entity, err = s.Store.GetEntity(ctx(), other, "a")
	if s.NoError(err) {
		s.Equal([]byte("theirs"), entity.Body)
	}
}
