// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package container provides the cached document container: a
// key-value collection of JSON-like documents with a read-through /
// write-through cache hierarchy and retrying optimistic updates over a
// strongly consistent backing store.
//
// Reads consult a small in-process LRU with a short TTL, then the
// shared cache, then the backing Store; each tier populates the faster
// ones on the way back up.  Writes always run against the Store's
// compare-and-swap and never trust a cache.  The caches are pure
// accelerants: every cache failure is treated as a miss, logged, and
// absorbed.
//
// A container holds documents of a single kind.  Within a container a
// document's id is unique; "kind" policy such as tombstoning on delete
// belongs to the caller, not this layer.
package container

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-docstore/docstore"
	"github.com/sirupsen/logrus"
)

// blobRefField marks an entity row whose real body lives in the blob
// store; its value is the blob name.
const blobRefField = "_blobRef"

// ErrNoName is returned from New if the options do not name the
// container.
var ErrNoName = errors.New("Container must have a name")

// ErrNoStore is returned from New if the options do not provide a
// backing store.
var ErrNoStore = errors.New("Container must have a backing store")

// Options configures a Container.  Name and Store are required;
// everything else has a usable default, and the cache and blob layers
// are optional.
type Options struct {
	// Name is the container name.  It namespaces the backing
	// partition, the shared cache keys, and the blob names, so two
	// containers with the same name on the same Store are the same
	// container.
	Name string

	// Store is the backing entity store, the single source of
	// truth.
	Store docstore.Store

	// Cache, if non-nil, is the shared read accelerant.
	Cache docstore.Cache

	// Blobs, if non-nil, holds document bodies larger than
	// BlobThreshold.
	Blobs docstore.BlobStore

	// Clock is the time source for TTLs and retry backoff.
	// Defaults to the real clock; tests inject a mock.
	Clock clock.Clock

	// Retry bounds transient-failure retries on Store and blob
	// calls.
	Retry docstore.RetryPolicy

	// UpdateAttempts bounds the optimistic-concurrency retry loop.
	// Defaults to 8.
	UpdateAttempts int

	// LocalTTL is the in-process cache TTL.  It must stay short
	// (seconds): it is the window in which this process can miss
	// another process's writes.  Defaults to 5 seconds.
	LocalTTL time.Duration

	// LocalSize is the in-process cache capacity in documents.
	// Defaults to 1024.
	LocalSize int

	// CacheTTL is the shared cache TTL.  Defaults to 5 minutes.
	CacheTTL time.Duration

	// BlobThreshold is the encoded-body size, in bytes, above which
	// a document spills into the blob store.  Only meaningful when
	// Blobs is set.  Defaults to 64 KiB.
	BlobThreshold int
}

// Container is a cached, optimistically concurrent document
// collection.  All methods are safe for concurrent use, in this
// process and across processes sharing the same backing store.
type Container struct {
	name           string
	store          docstore.Store
	cache          docstore.Cache
	blobs          docstore.BlobStore
	clock          clock.Clock
	retry          docstore.RetryPolicy
	updateAttempts int
	cacheTTL       time.Duration
	blobThreshold  int
	local          *lru
}

// New creates a container from options.
func New(opts Options) (*Container, error) {
	if opts.Name == "" {
		return nil, ErrNoName
	}
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.UpdateAttempts <= 0 {
		opts.UpdateAttempts = 8
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = 5 * time.Second
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.BlobThreshold <= 0 {
		opts.BlobThreshold = 64 << 10
	}
	return &Container{
		name:           opts.Name,
		store:          opts.Store,
		cache:          opts.Cache,
		blobs:          opts.Blobs,
		clock:          opts.Clock,
		retry:          opts.Retry,
		updateAttempts: opts.UpdateAttempts,
		cacheTTL:       opts.CacheTTL,
		local:          newLRU(opts.LocalSize, opts.LocalTTL, opts.Clock),
		blobThreshold:  opts.BlobThreshold,
	}, nil
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Store returns the backing entity store.  The indexed package uses
// this to keep index rows on the same store as the documents.
func (c *Container) Store() docstore.Store {
	return c.store
}

// Clock returns the container's time source.
func (c *Container) Clock() clock.Clock {
	return c.clock
}

// Retry returns the container's transient-failure retry policy.
func (c *Container) Retry() docstore.RetryPolicy {
	return c.retry
}

// partitionKey is the backing-store partition holding this container's
// documents.
func (c *Container) partitionKey() string {
	return "doc/" + c.name
}

// cacheKey is the shared-cache key for one document.
func (c *Container) cacheKey(id string) string {
	return "container:" + c.name + ":" + id
}

// Get retrieves a document by id, or nil if it does not exist.  "Does
// not exist" is a normal outcome, not an error.  Cache tiers are
// consulted fastest-first; cache failures fall through to the source
// of truth.
func (c *Container) Get(ctx context.Context, id string) (docstore.Document, error) {
	if body, present := c.local.Get(id); present {
		tick(c.name, "local", "hit")
		return docstore.DecodeDocument(body)
	}
	tick(c.name, "local", "miss")

	if c.cache != nil {
		body, present, err := c.cache.Get(ctx, c.cacheKey(id))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"container": c.name,
				"err":       err,
			}).Warn("Shared cache read failed; falling through")
			tick(c.name, "shared", "error")
		} else if present {
			tick(c.name, "shared", "hit")
			c.local.Put(id, body)
			return docstore.DecodeDocument(body)
		} else {
			tick(c.name, "shared", "miss")
		}
	}

	entity, err := c.readEntity(ctx, id)
	if err == docstore.ErrNotFound {
		tick(c.name, "store", "absent")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tick(c.name, "store", "hit")

	doc, err := c.decodeBody(ctx, entity.Body)
	if err != nil {
		return nil, err
	}
	// Populate the faster tiers with the resolved body, so cached
	// entries never hold blob markers.
	c.writeThrough(ctx, id, doc)
	return doc, nil
}

// GetMany retrieves several documents in parallel, preserving input
// order.  Missing ids yield nil entries; a backend failure on any id
// fails the call.
func (c *Container) GetMany(ctx context.Context, ids []string) ([]docstore.Document, error) {
	docs := make([]docstore.Document, len(ids))
	errs := make([]error, len(ids))
	wg := sync.WaitGroup{}
	wg.Add(len(ids))
	for i := range ids {
		go func(i int) {
			defer wg.Done()
			docs[i], errs[i] = c.Get(ctx, ids[i])
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// Update applies a mutator to a document under the optimistic
// concurrency protocol and returns the document as stored.  The
// mutator may run several times, once per attempt, and must not keep
// side effects; each attempt hands it a fresh copy of the latest
// stored state.  If the document does not exist yet, the mutator
// receives a shell holding only the id, and a successful update
// creates the document.
//
// Concurrent updates to the same id never lose writes: each retry
// re-reads the current state, so every successful Update's mutation is
// reflected in the final document.  After the attempt bound the update
// gives up with ErrConcurrencyExhausted and must be considered not
// applied.
func (c *Container) Update(ctx context.Context, id string, mutator func(docstore.Document) error) (docstore.Document, error) {
	for attempt := 0; attempt < c.updateAttempts; attempt++ {
		// Read the current state directly from the store; the
		// caches can be stale and a write based on stale state
		// would only burn a retry.
		current := docstore.Document{"id": id}
		version := docstore.NoVersion
		oldBlobRef := ""
		entity, err := c.readEntity(ctx, id)
		if err == nil {
			version = entity.Version
			current, err = docstore.DecodeDocument(entity.Body)
			if err != nil {
				return nil, err
			}
			if ref, ok := current[blobRefField].(string); ok {
				oldBlobRef = ref
				current, err = c.readBlobBody(ctx, ref)
				if err != nil {
					return nil, err
				}
			}
		} else if err != docstore.ErrNotFound {
			return nil, err
		}

		working, err := docstore.CopyDocument(current)
		if err != nil {
			return nil, err
		}
		if err := mutator(working); err != nil {
			return nil, err
		}

		body, newBlobRef, err := c.encodeForWrite(ctx, id, working)
		if err != nil {
			return nil, err
		}

		if version == docstore.NoVersion {
			err = c.retry.Run(ctx, c.clock, func() error {
				_, err := c.store.InsertEntity(ctx, docstore.Entity{
					PartitionKey: c.partitionKey(),
					RowKey:       id,
					Body:         body,
				})
				return err
			})
		} else {
			err = c.retry.Run(ctx, c.clock, func() error {
				_, err := c.store.ReplaceEntity(ctx, docstore.Entity{
					PartitionKey: c.partitionKey(),
					RowKey:       id,
					Body:         body,
				}, version)
				return err
			})
		}
		switch err {
		case nil:
			if oldBlobRef != "" && oldBlobRef != newBlobRef {
				c.dropBlob(ctx, oldBlobRef)
			}
			c.writeThrough(ctx, id, working)
			return working, nil
		case docstore.ErrVersionMismatch, docstore.ErrAlreadyExists, docstore.ErrNotFound:
			// Somebody else wrote (or deleted) the document
			// between our read and our write.  Go around.
			tickConflict(c.name)
			continue
		default:
			return nil, err
		}
	}
	tickExhausted(c.name)
	return nil, docstore.ErrConcurrencyExhausted
}

// Insert stores a brand-new document.  The document must carry an
// "id" field.  Returns docstore.ErrAlreadyExists, without retrying, if
// a document with that id already exists; retrying an insert would
// quietly turn it into an overwrite.
func (c *Container) Insert(ctx context.Context, doc docstore.Document) error {
	meta, err := docstore.ExtractDocumentMeta(doc)
	if err != nil {
		return err
	}
	body, _, err := c.encodeForWrite(ctx, meta.ID, doc)
	if err != nil {
		return err
	}
	err = c.retry.Run(ctx, c.clock, func() error {
		_, err := c.store.InsertEntity(ctx, docstore.Entity{
			PartitionKey: c.partitionKey(),
			RowKey:       meta.ID,
			Body:         body,
		})
		return err
	})
	if err != nil {
		return err
	}
	c.writeThrough(ctx, meta.ID, doc)
	return nil
}

// JustInsert stores a write-once document: a value that is computed
// once and never mutated, such as a memoized rendering.  It skips the
// read-modify-write protocol since there is no prior version to race
// against.  If the document already exists it is assumed identical by
// construction and the insert conflict is absorbed; either way the
// caches end up populated.
func (c *Container) JustInsert(ctx context.Context, id string, doc docstore.Document) error {
	body, _, err := c.encodeForWrite(ctx, id, doc)
	if err != nil {
		return err
	}
	err = c.retry.Run(ctx, c.clock, func() error {
		_, err := c.store.InsertEntity(ctx, docstore.Entity{
			PartitionKey: c.partitionKey(),
			RowKey:       id,
			Body:         body,
		})
		return err
	})
	if err != nil && err != docstore.ErrAlreadyExists {
		return err
	}
	c.writeThrough(ctx, id, doc)
	return nil
}

// ForEach scans every document in the container in ascending id order,
// calling f once per batch.  If f returns an error the scan stops and
// returns it.  This reads the backing store directly; it is meant for
// maintenance passes such as index backfills, not request paths.
func (c *Container) ForEach(ctx context.Context, batchSize int, f func([]docstore.Document) error) error {
	token := ""
	for {
		var page docstore.Page
		err := c.retry.Run(ctx, c.clock, func() (err error) {
			page, err = c.store.QueryRange(ctx, docstore.RangeQuery{
				PartitionKey: c.partitionKey(),
				Limit:        batchSize,
				Continuation: token,
			})
			return
		})
		if err != nil {
			return err
		}
		if len(page.Entities) > 0 {
			batch := make([]docstore.Document, 0, len(page.Entities))
			for _, entity := range page.Entities {
				doc, err := c.decodeBody(ctx, entity.Body)
				if err != nil {
					return err
				}
				batch = append(batch, doc)
			}
			if err := f(batch); err != nil {
				return err
			}
		}
		if page.Continuation == "" {
			return nil
		}
		token = page.Continuation
	}
}

// readEntity reads a document's entity row directly from the store,
// absorbing transient failures.
func (c *Container) readEntity(ctx context.Context, id string) (docstore.Entity, error) {
	var entity docstore.Entity
	err := c.retry.Run(ctx, c.clock, func() (err error) {
		entity, err = c.store.GetEntity(ctx, c.partitionKey(), id)
		return
	})
	return entity, err
}

// decodeBody turns a stored entity body into a document, chasing the
// blob reference if the body spilled.
func (c *Container) decodeBody(ctx context.Context, body []byte) (docstore.Document, error) {
	doc, err := docstore.DecodeDocument(body)
	if err != nil {
		return nil, err
	}
	if ref, ok := doc[blobRefField].(string); ok {
		return c.readBlobBody(ctx, ref)
	}
	return doc, nil
}

// readBlobBody fetches and decodes a spilled document body.
func (c *Container) readBlobBody(ctx context.Context, ref string) (docstore.Document, error) {
	var data []byte
	err := c.retry.Run(ctx, c.clock, func() (err error) {
		data, err = c.blobs.GetBlob(ctx, ref)
		return
	})
	if err != nil {
		return nil, err
	}
	return docstore.DecodeDocument(data)
}

// encodeForWrite encodes a document body for storage.  Bodies over the
// spill threshold go to the blob store under a content-derived name,
// and the entity row keeps a pointer; the blob is written first so no
// reader can see a dangling pointer.  Returns the entity body and the
// blob name, if any.
func (c *Container) encodeForWrite(ctx context.Context, id string, doc docstore.Document) ([]byte, string, error) {
	encoded, err := docstore.EncodeDocument(doc)
	if err != nil {
		return nil, "", err
	}
	if c.blobs == nil || len(encoded) <= c.blobThreshold {
		return encoded, "", nil
	}

	// The name includes a content hash so racing writers cannot
	// clobber each other's blobs: whichever writer wins the entity
	// compare-and-swap, its pointer names its own bytes.
	digest := sha256.Sum256(encoded)
	ref := c.name + "/" + id + "/" + hex.EncodeToString(digest[:8])
	err = c.retry.Run(ctx, c.clock, func() error {
		return c.blobs.PutBlob(ctx, ref, encoded, "application/cbor")
	})
	if err != nil {
		return nil, "", err
	}
	marker, err := docstore.EncodeDocument(docstore.Document{blobRefField: ref})
	if err != nil {
		return nil, "", err
	}
	return marker, ref, nil
}

// dropBlob removes a superseded spilled body, best effort.  A leaked
// blob costs storage, not correctness.
func (c *Container) dropBlob(ctx context.Context, ref string) {
	if err := c.blobs.DeleteBlob(ctx, ref); err != nil && err != docstore.ErrNotFound {
		logrus.WithFields(logrus.Fields{
			"container": c.name,
			"blob":      ref,
			"err":       err,
		}).Warn("Could not delete superseded blob")
	}
}

// writeThrough refreshes both cache tiers after a successful write, so
// the writer immediately observes its own write on the read path.
// Cache failures are logged, never propagated: the write itself is
// already durable.
func (c *Container) writeThrough(ctx context.Context, id string, doc docstore.Document) {
	encoded, err := docstore.EncodeDocument(doc)
	if err != nil {
		// The document just round-tripped the codec during the
		// write; this cannot ordinarily happen.
		logrus.WithFields(logrus.Fields{
			"container": c.name,
			"err":       err,
		}).Warn("Could not encode document for cache")
		return
	}
	c.local.Put(id, encoded)
	if c.cache != nil {
		if err := c.cache.Set(ctx, c.cacheKey(id), encoded, c.cacheTTL); err != nil {
			logrus.WithFields(logrus.Fields{
				"container": c.name,
				"err":       err,
			}).Warn("Could not update shared cache")
		}
	}
}
