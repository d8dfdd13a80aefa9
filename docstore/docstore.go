// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package docstore defines an abstract API to the document store core.
//
// In most cases, applications will know of specific implementations of
// this API and will get a Store, BlobStore, or Cache from that
// implementation; the memory and postgres packages provide Store
// implementations, for instance.  The container and indexed packages
// build the cached container and secondary-index layers on top of these
// interfaces and are what most application code consumes.
//
// Nothing in this package performs I/O itself.  Every operation that an
// implementation would back with I/O takes a context.Context, and
// implementations are expected to honor cancellation on every call.
package docstore

import (
	"context"
	"time"
)

// Document is a single JSON-like document.  Documents are maps with
// string keys; values are anything the CBOR codec round-trips, which in
// practice means strings, numbers, booleans, nil, []interface{}, and
// nested string-keyed maps.  By convention every stored document
// carries "id" and "kind" string fields; see DocumentMeta.
type Document map[string]interface{}

// Version is an opaque per-entity concurrency token.  Implementations
// mint a new version on every successful write, and a conditional write
// succeeds only if the caller presents the version it last read.  The
// zero value means "never stored".
type Version string

// NoVersion is the version of an entity that has never been stored.
const NoVersion Version = ""

// Entity is a single row in a Store.  Entities live in partitions;
// within a partition, row keys are unique and range queries scan rows
// in ascending row-key order.  The Body is an encoded document (see
// EncodeDocument); the Store never interprets it.
type Entity struct {
	// PartitionKey names the partition holding this entity.
	PartitionKey string

	// RowKey identifies this entity within its partition.
	RowKey string

	// Version is the entity's current concurrency token.  It is
	// set by the Store on reads, and ignored on writes: writes take
	// the expected version as an explicit parameter instead.
	Version Version

	// Body is the encoded document payload.
	Body []byte
}

// RangeQuery selects a contiguous run of entities within one partition.
// Its zero value (plus a partition key) selects the whole partition.
type RangeQuery struct {
	// PartitionKey names the partition to scan.
	PartitionKey string

	// Lower, if non-empty, is an inclusive lower bound on row keys.
	Lower string

	// Upper, if non-empty, is an exclusive upper bound on row keys.
	Upper string

	// Limit is the maximum number of entities to return.  If zero
	// or negative the Store picks its own page size.
	Limit int

	// Continuation resumes a previous scan.  It must be a token
	// returned in a Page from the same Store, or empty to start
	// from the beginning of the range.
	Continuation string
}

// Page is one page of range query results.
type Page struct {
	// Entities holds the selected entities in ascending row-key
	// order.
	Entities []Entity

	// Continuation, if non-empty, resumes the scan after the last
	// entity in this page.  An empty token means the range is
	// exhausted.
	Continuation string
}

// Store is the backing entity store.  It provides strong per-row
// consistency: InsertEntity and ReplaceEntity are atomic, and
// ReplaceEntity is a compare-and-swap on the version token, so no lost
// updates can occur even under concurrent writers on separate machines.
//
// Stores return ErrNotFound, ErrAlreadyExists, and ErrVersionMismatch
// for the definite failures, and errors matching IsTransient for
// retryable backend conditions.
type Store interface {
	// GetEntity retrieves a single entity.  Returns ErrNotFound if
	// no entity exists with this key.
	GetEntity(ctx context.Context, partitionKey, rowKey string) (Entity, error)

	// InsertEntity stores a new entity and returns its initial
	// version.  Returns ErrAlreadyExists if an entity already
	// exists with this key, without changing it.
	InsertEntity(ctx context.Context, entity Entity) (Version, error)

	// ReplaceEntity overwrites an existing entity, but only if its
	// current version equals expected; this is the compare-and-swap
	// at the heart of the optimistic-concurrency protocol.  Returns
	// the new version on success, ErrVersionMismatch if the stored
	// version differs, and ErrNotFound if the entity does not
	// exist.
	ReplaceEntity(ctx context.Context, entity Entity, expected Version) (Version, error)

	// DeleteEntity removes a single entity.  Returns ErrNotFound
	// if no entity exists with this key; callers doing idempotent
	// cleanup generally ignore that.
	DeleteEntity(ctx context.Context, partitionKey, rowKey string) error

	// QueryRange scans part of a partition in ascending row-key
	// order.  The returned page's Continuation token, fed back into
	// the query, resumes the scan; see RangeQuery.  Concurrent
	// writes may or may not be visible to an in-progress scan, but
	// a scan over an unchanging partition yields every row exactly
	// once.
	QueryRange(ctx context.Context, query RangeQuery) (Page, error)
}

// BlobStore is a large-object store, one blob per name.  Containers
// use it to hold document bodies that are too large to live comfortably
// in a Store row.
type BlobStore interface {
	// GetBlob retrieves a blob's contents.  Returns ErrNotFound if
	// no blob exists with this name.
	GetBlob(ctx context.Context, name string) ([]byte, error)

	// PutBlob stores a blob, overwriting any previous contents.
	PutBlob(ctx context.Context, name string, data []byte, contentType string) error

	// DeleteBlob removes a blob.  Returns ErrNotFound if no blob
	// exists with this name.
	DeleteBlob(ctx context.Context, name string) error
}

// Cache is a low-latency shared key-value cache with per-entry TTLs.
// It is a read accelerant and a lock substrate, never a source of
// truth: every caller in this module treats a miss or an error from the
// cache as "go to the Store instead", and no code path fails an
// operation because the cache is down.
type Cache interface {
	// Get retrieves a cache entry.  The boolean reports whether the
	// entry was present.  An absent entry is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a cache entry with a time-to-live.  A zero or
	// negative ttl is invalid.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores a cache entry only if no live entry exists
	// for the key.  The boolean reports whether this call created
	// the entry; false means some other entry is live.  This is the
	// atomic primitive the cachelock package builds on.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a cache entry.  Deleting an absent entry is
	// not an error.
	Delete(ctx context.Context, key string) error
}
