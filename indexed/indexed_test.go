// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package indexed_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/diffeo/go-docstore/container"
	"github.com/diffeo/go-docstore/docstore"
	"github.com/diffeo/go-docstore/indexed"
	"github.com/diffeo/go-docstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byColor keys documents on their "color" field.
func byColor(doc docstore.Document) string {
	color, _ := doc["color"].(string)
	return color
}

func newIndexed(t *testing.T, mutate func(*container.Options)) *indexed.Store {
	opts := container.Options{
		Name:  "widgets",
		Store: memory.NewStore(),
		Cache: memory.NewCache(),
		Retry: docstore.RetryPolicy{
			MaxAttempts:    4,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := container.New(opts)
	require.NoError(t, err)
	s := indexed.New(c)
	s.CreateIndex("color", byColor, nil)
	return s
}

func TestFetchUnknownIndex(t *testing.T) {
	s := newIndexed(t, nil)
	_, err := s.Fetch(context.Background(), "nope", "red", indexed.PageOptions{})
	assert.Equal(t, indexed.ErrNoSuchIndex{Name: "nope"}, err)
}

func TestInsertVisibleInIndex(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, docstore.Document{"id": "a", "color": "red"})
	require.NoError(t, err)

	// The document must be fetchable by its key immediately.
	result, err := s.Fetch(ctx, "color", "red", indexed.PageOptions{})
	if assert.NoError(t, err) && assert.Len(t, result.Items, 1) {
		assert.Equal(t, "a", result.Items[0]["id"])
	}

	// And invisible under other keys.
	result, err = s.Fetch(ctx, "color", "blue", indexed.PageOptions{})
	assert.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestEmptyKeyUnindexed(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, docstore.Document{"id": "plain"})
	require.NoError(t, err)

	result, err := s.Fetch(ctx, "color", "", indexed.PageOptions{})
	assert.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestFetchPagination(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	const total = 7
	for i := 0; i < total; i++ {
		_, err := s.Insert(ctx, docstore.Document{
			"id":    fmt.Sprintf("w%02d", i),
			"color": "red",
		})
		require.NoError(t, err)
	}

	// Walking pages of 3 must see every document exactly once, in
	// ascending id order.
	var seen []string
	token := ""
	for {
		result, err := s.Fetch(ctx, "color", "red", indexed.PageOptions{
			Count:        3,
			Continuation: token,
		})
		require.NoError(t, err)
		assert.True(t, len(result.Items) <= 3)
		for _, doc := range result.Items {
			seen = append(seen, doc["id"].(string))
		}
		if result.Continuation == "" {
			break
		}
		token = result.Continuation
	}
	require.Len(t, seen, total)
	for i, id := range seen {
		assert.Equal(t, fmt.Sprintf("w%02d", i), id)
	}
}

func TestFetchSkipsHoles(t *testing.T) {
	store := memory.NewStore()
	writer := newIndexed(t, func(opts *container.Options) {
		opts.Store = store
	})
	ctx := context.Background()

	_, err := writer.Insert(ctx, docstore.Document{"id": "a", "color": "red"})
	require.NoError(t, err)
	_, err = writer.Insert(ctx, docstore.Document{"id": "b", "color": "red"})
	require.NoError(t, err)

	// Delete a document out from under its index row.
	require.NoError(t, store.DeleteEntity(ctx, "doc/widgets", "a"))

	// Fetch through a cold-cached store so the dangling row is
	// actually observed.
	reader := newIndexed(t, func(opts *container.Options) {
		opts.Store = store
		opts.Cache = nil
	})
	result, err := reader.Fetch(ctx, "color", "red", indexed.PageOptions{})
	if assert.NoError(t, err) && assert.Len(t, result.Items, 1) {
		assert.Equal(t, "b", result.Items[0]["id"])
	}
}

func TestReindexMovesKeys(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, docstore.Document{"id": "a", "color": "red"})
	require.NoError(t, err)

	_, err = s.Reindex(ctx, "a", func(doc docstore.Document) error {
		doc["color"] = "blue"
		return nil
	})
	require.NoError(t, err)

	// Fetching the old key must not return the document; the new key
	// must.
	result, err := s.Fetch(ctx, "color", "red", indexed.PageOptions{})
	assert.NoError(t, err)
	assert.Empty(t, result.Items)

	result, err = s.Fetch(ctx, "color", "blue", indexed.PageOptions{})
	if assert.NoError(t, err) && assert.Len(t, result.Items, 1) {
		assert.Equal(t, "a", result.Items[0]["id"])
	}
}

func TestReindexCreates(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	_, err := s.Reindex(ctx, "fresh", func(doc docstore.Document) error {
		doc["color"] = "green"
		return nil
	})
	require.NoError(t, err)

	result, err := s.Fetch(ctx, "color", "green", indexed.PageOptions{})
	if assert.NoError(t, err) && assert.Len(t, result.Items, 1) {
		assert.Equal(t, "fresh", result.Items[0]["id"])
	}
}

func TestDeindex(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, docstore.Document{"id": "a", "color": "red"})
	require.NoError(t, err)
	require.NoError(t, s.Deindex(ctx, "a"))

	result, err := s.Fetch(ctx, "color", "red", indexed.PageOptions{})
	assert.NoError(t, err)
	assert.Empty(t, result.Items)

	// The document itself survives.
	doc, err := s.Container().Get(ctx, "a")
	assert.NoError(t, err)
	assert.NotNil(t, doc)

	// Deindexing an absent document is a no-op.
	assert.NoError(t, s.Deindex(ctx, "ghost"))
}

func TestBackfill(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	// Documents inserted through the bare container never hit the
	// index.
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Container().Insert(ctx, docstore.Document{"id": id, "color": "red"}))
	}
	result, err := s.Fetch(ctx, "color", "red", indexed.PageOptions{})
	require.NoError(t, err)
	require.Empty(t, result.Items)

	require.NoError(t, s.Backfill(ctx, 2))

	docs, err := s.FetchAll(ctx, "color", "red")
	assert.NoError(t, err)
	assert.Len(t, docs, 3)

	// Backfill is idempotent.
	require.NoError(t, s.Backfill(ctx, 2))
	docs, err = s.FetchAll(ctx, "color", "red")
	assert.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestResolveHook(t *testing.T) {
	s := newIndexed(t, nil)
	s.CreateIndex("visible", byColor, func(ctx context.Context, docs []docstore.Document) ([]docstore.Document, error) {
		kept := make([]docstore.Document, 0, len(docs))
		for _, doc := range docs {
			if hidden, _ := doc["hidden"].(bool); !hidden {
				kept = append(kept, doc)
			}
		}
		return kept, nil
	})
	ctx := context.Background()

	_, err := s.Insert(ctx, docstore.Document{"id": "a", "color": "red"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, docstore.Document{"id": "b", "color": "red", "hidden": true})
	require.NoError(t, err)

	result, err := s.Fetch(ctx, "visible", "red", indexed.PageOptions{})
	if assert.NoError(t, err) && assert.Len(t, result.Items, 1) {
		assert.Equal(t, "a", result.Items[0]["id"])
	}

	// The plain index still sees both.
	result, err = s.Fetch(ctx, "color", "red", indexed.PageOptions{})
	assert.NoError(t, err)
	assert.Len(t, result.Items, 2)
}

func TestForAllBatched(t *testing.T) {
	s := newIndexed(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, docstore.Document{
			"id":    fmt.Sprintf("w%d", i),
			"color": "red",
		})
		require.NoError(t, err)
	}

	var batches int
	var seen int
	err := s.ForAllBatched(ctx, "color", "red", 2, func(batch []docstore.Document) error {
		batches++
		seen += len(batch)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 5, seen)
	assert.Equal(t, 3, batches)

	// Callback errors stop the scan.
	err = s.ForAllBatched(ctx, "color", "red", 2, func([]docstore.Document) error {
		return assert.AnError
	})
	assert.Equal(t, assert.AnError, err)
}
