// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package memory provides in-process, in-memory implementations of the
// docstore interfaces.  There is no persistence, nor any sharing
// between processes.  Each implementation is behind a single mutex; in
// some cases this can limit performance in the name of correctness.
//
// This is mostly intended as a simple reference implementation that
// can be used for testing, including in-process testing of the
// container and indexed layers.  It is tuned for correctness, not
// performance or scalability.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/diffeo/go-docstore/docstore"
)

// defaultPageSize is the page size for range queries that do not
// specify one.
const defaultPageSize = 100

// memRow is a single stored entity.
type memRow struct {
	version docstore.Version
	body    []byte
}

// memStore is the in-memory Store.
type memStore struct {
	sem        sync.Mutex
	partitions map[string]map[string]*memRow
	versions   uint64
}

// NewStore creates an empty in-memory Store.
func NewStore() docstore.Store {
	return &memStore{
		partitions: make(map[string]map[string]*memRow),
	}
}

// nextVersion mints a fresh version token.  It assumes the lock.
func (store *memStore) nextVersion() docstore.Version {
	store.versions++
	return docstore.Version(strconv.FormatUint(store.versions, 10))
}

func (store *memStore) GetEntity(ctx context.Context, partitionKey, rowKey string) (docstore.Entity, error) {
	store.sem.Lock()
	defer store.sem.Unlock()

	row := store.partitions[partitionKey][rowKey]
	if row == nil {
		return docstore.Entity{}, docstore.ErrNotFound
	}
	return docstore.Entity{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Version:      row.version,
		Body:         append([]byte(nil), row.body...),
	}, nil
}

func (store *memStore) InsertEntity(ctx context.Context, entity docstore.Entity) (docstore.Version, error) {
	store.sem.Lock()
	defer store.sem.Unlock()

	partition := store.partitions[entity.PartitionKey]
	if partition == nil {
		partition = make(map[string]*memRow)
		store.partitions[entity.PartitionKey] = partition
	}
	if partition[entity.RowKey] != nil {
		return docstore.NoVersion, docstore.ErrAlreadyExists
	}
	version := store.nextVersion()
	partition[entity.RowKey] = &memRow{
		version: version,
		body:    append([]byte(nil), entity.Body...),
	}
	return version, nil
}

func (store *memStore) ReplaceEntity(ctx context.Context, entity docstore.Entity, expected docstore.Version) (docstore.Version, error) {
	store.sem.Lock()
	defer store.sem.Unlock()

	row := store.partitions[entity.PartitionKey][entity.RowKey]
	if row == nil {
		return docstore.NoVersion, docstore.ErrNotFound
	}
	if row.version != expected {
		return docstore.NoVersion, docstore.ErrVersionMismatch
	}
	row.version = store.nextVersion()
	row.body = append([]byte(nil), entity.Body...)
	return row.version, nil
}

func (store *memStore) DeleteEntity(ctx context.Context, partitionKey, rowKey string) error {
	store.sem.Lock()
	defer store.sem.Unlock()

	partition := store.partitions[partitionKey]
	if partition[rowKey] == nil {
		return docstore.ErrNotFound
	}
	delete(partition, rowKey)
	return nil
}

func (store *memStore) QueryRange(ctx context.Context, query docstore.RangeQuery) (docstore.Page, error) {
	store.sem.Lock()
	defer store.sem.Unlock()

	after := ""
	if query.Continuation != "" {
		last, err := docstore.UnmarshalContinuation(query.Continuation, query.PartitionKey)
		if err != nil {
			return docstore.Page{}, err
		}
		after = last
	}

	// Clarity over efficiency: collect every matching row key, sort,
	// then slice out the page.
	partition := store.partitions[query.PartitionKey]
	var keys []string
	for key := range partition {
		if query.Lower != "" && key < query.Lower {
			continue
		}
		if query.Upper != "" && key >= query.Upper {
			continue
		}
		if after != "" && key <= after {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	more := len(keys) > limit
	if more {
		keys = keys[:limit]
	}

	page := docstore.Page{}
	for _, key := range keys {
		row := partition[key]
		page.Entities = append(page.Entities, docstore.Entity{
			PartitionKey: query.PartitionKey,
			RowKey:       key,
			Version:      row.version,
			Body:         append([]byte(nil), row.body...),
		})
	}
	if more {
		page.Continuation = docstore.MarshalContinuation(query.PartitionKey, keys[len(keys)-1])
	}
	return page, nil
}
