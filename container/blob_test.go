// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package container_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/diffeo/go-docstore/container"
	"github.com/diffeo/go-docstore/docstore"
	"github.com/diffeo/go-docstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spillSetup builds a container that spills any non-trivial body into
// an in-memory blob store.
func spillSetup(t *testing.T) (*container.Container, docstore.Store, docstore.BlobStore) {
	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	c := newContainer(t, func(opts *container.Options) {
		opts.Store = store
		opts.Blobs = blobs
		opts.BlobThreshold = 32
	})
	return c, store, blobs
}

// bigDoc builds a document comfortably over the test spill threshold.
func bigDoc(id string) docstore.Document {
	return docstore.Document{
		"id":   id,
		"body": strings.Repeat("lorem ipsum ", 16),
	}
}

func TestSpillRoundTrip(t *testing.T) {
	c, store, _ := spillSetup(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, bigDoc("a")))

	// The entity row must hold a pointer, not the body.
	entity, err := store.GetEntity(ctx, "doc/widgets", "a")
	require.NoError(t, err)
	marker, err := docstore.DecodeDocument(entity.Body)
	require.NoError(t, err)
	assert.Contains(t, marker, "_blobRef")
	assert.NotContains(t, marker, "body")

	// Reads resolve the pointer transparently.
	doc, err := c.Get(ctx, "a")
	if assert.NoError(t, err) && assert.NotNil(t, doc) {
		assert.Equal(t, bigDoc("a")["body"], doc["body"])
	}
}

func TestSpillUpdateReplacesBlob(t *testing.T) {
	c, store, blobs := spillSetup(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, bigDoc("a")))
	entity, err := store.GetEntity(ctx, "doc/widgets", "a")
	require.NoError(t, err)
	marker, err := docstore.DecodeDocument(entity.Body)
	require.NoError(t, err)
	oldRef := marker["_blobRef"].(string)

	_, err = c.Update(ctx, "a", func(doc docstore.Document) error {
		doc["body"] = strings.Repeat("new body text ", 16)
		return nil
	})
	require.NoError(t, err)

	// The superseded blob is gone, and reads see the new body.
	_, err = blobs.GetBlob(ctx, oldRef)
	assert.Equal(t, docstore.ErrNotFound, err)
	doc, err := c.Get(ctx, "a")
	if assert.NoError(t, err) {
		assert.Equal(t, strings.Repeat("new body text ", 16), doc["body"])
	}
}

func TestSmallDocDoesNotSpill(t *testing.T) {
	c, store, _ := spillSetup(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, docstore.Document{"id": "s"}))
	entity, err := store.GetEntity(ctx, "doc/widgets", "s")
	require.NoError(t, err)
	doc, err := docstore.DecodeDocument(entity.Body)
	require.NoError(t, err)
	assert.NotContains(t, doc, "_blobRef")
}

// flakyStore fails every operation a fixed number of times before
// delegating, to exercise the transient retry paths.
type flakyStore struct {
	docstore.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) trip() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return docstore.ErrUnavailable
	}
	return nil
}

func (f *flakyStore) GetEntity(ctx context.Context, partitionKey, rowKey string) (docstore.Entity, error) {
	if err := f.trip(); err != nil {
		return docstore.Entity{}, err
	}
	return f.Store.GetEntity(ctx, partitionKey, rowKey)
}

func (f *flakyStore) InsertEntity(ctx context.Context, entity docstore.Entity) (docstore.Version, error) {
	if err := f.trip(); err != nil {
		return docstore.NoVersion, err
	}
	return f.Store.InsertEntity(ctx, entity)
}

func TestTransientErrorsAbsorbed(t *testing.T) {
	flaky := &flakyStore{Store: memory.NewStore(), failures: 2}
	c := newContainer(t, func(opts *container.Options) {
		opts.Store = flaky
	})
	ctx := context.Background()

	// Two transient failures fit inside the four-attempt budget.
	require.NoError(t, c.Insert(ctx, docstore.Document{"id": "a", "v": 1}))

	// Read through a second container so the flaky store, and not a
	// warm cache, serves the get.
	other := newContainer(t, func(opts *container.Options) {
		opts.Store = flaky
		opts.Cache = nil
	})
	flaky.mu.Lock()
	flaky.failures = 2
	flaky.mu.Unlock()
	doc, err := other.Get(ctx, "a")
	if assert.NoError(t, err) && assert.NotNil(t, doc) {
		assert.EqualValues(t, 1, asInt(doc["v"]))
	}
}

func TestTransientErrorsExhaustBudget(t *testing.T) {
	flaky := &flakyStore{Store: memory.NewStore(), failures: 100}
	c := newContainer(t, func(opts *container.Options) {
		opts.Store = flaky
		opts.Cache = nil
	})

	err := c.Insert(context.Background(), docstore.Document{"id": "a"})
	assert.Error(t, err)
	assert.IsType(t, docstore.ErrBackendUnavailable{}, err)
}
