// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package indexed maintains named secondary indexes over a container's
// documents and serves paginated lookups by index key.
//
// An index maps a key, computed from each document by a caller-supplied
// pure function, to the set of document ids that produced it.  Index
// rows live on the same backing store as the documents, one partition
// per (index, key value) pair, so a lookup is a single ordered range
// scan.  Row keys are document ids; a caller that wants a particular
// scan order (newest first, say) biases its ids, typically with an
// inverted-timestamp prefix.
//
// Index writes strictly follow document writes.  A reader can never
// observe an index row pointing at a document that was never stored,
// but a crash between the two writes can leave a document invisible to
// its index until the next Reindex or Backfill repairs it.  Index
// lookups are therefore "at most complete", and the explicit Backfill
// entry point is the repair tool, not an edge case.
package indexed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-docstore/container"
	"github.com/diffeo/go-docstore/docstore"
)

// KeyFunc computes a document's key for one index.  It must be pure:
// no side effects, no captured mutable state, same key for the same
// document every time.  Returning an empty string leaves the document
// out of the index.
type KeyFunc func(docstore.Document) string

// ResolveFunc post-processes a fetched page of documents before it is
// returned to the caller: permission filtering, field projection, or
// join-like enrichment from other containers.  It may return fewer
// documents than it was handed.
type ResolveFunc func(context.Context, []docstore.Document) ([]docstore.Document, error)

// PageOptions selects one page of an index fetch.
type PageOptions struct {
	// Count is the requested page size.  Zero picks a default, and
	// oversized requests are clamped.
	Count int

	// Continuation resumes a previous fetch.  It must be a token
	// returned in a FetchResult for the same index and key value,
	// or empty for the first page.
	Continuation string
}

// FetchResult is one page of an index fetch.
type FetchResult struct {
	// Items holds the resolved documents.
	Items []docstore.Document

	// Continuation, if non-empty, fetches the next page.  Empty
	// means the index key is exhausted.
	Continuation string
}

// ErrNoSuchIndex is returned by fetch operations that name an index
// that was never created.
type ErrNoSuchIndex struct {
	Name string
}

func (err ErrNoSuchIndex) Error() string {
	return fmt.Sprintf("No such index %v", err.Name)
}

// ErrRunawayScan is returned from FetchAll and ForAllBatched when an
// index key has more pages than the safety cap allows.
var ErrRunawayScan = errors.New("Index scan exceeded its page cap")

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// maxScanPages bounds FetchAll and ForAllBatched so a
	// pathologically large index cannot pin memory or spin forever.
	maxScanPages = 4096
)

// index is one registered index.
type index struct {
	name    string
	keyFn   KeyFunc
	resolve ResolveFunc
}

// Store maintains secondary indexes over one container.
type Store struct {
	container *container.Container
	store     docstore.Store
	clock     clock.Clock
	retry     docstore.RetryPolicy

	sem     sync.Mutex
	indexes map[string]*index
}

// New creates an indexed store over a container.  Indexes start empty;
// register them with CreateIndex before inserting documents, and run
// Backfill if the container already has data.
func New(c *container.Container) *Store {
	return &Store{
		container: c,
		store:     c.Store(),
		clock:     c.Clock(),
		retry:     c.Retry(),
		indexes:   make(map[string]*index),
	}
}

// Container returns the underlying container, for direct document
// access that does not involve the indexes.
func (s *Store) Container() *container.Container {
	return s.container
}

// CreateIndex registers an index.  It is idempotent: re-registering an
// existing name just replaces its functions, which must only be done
// with the same semantics.  resolve may be nil.  Registration does not
// index documents already in the container; see Backfill.
func (s *Store) CreateIndex(name string, keyFn KeyFunc, resolve ResolveFunc) {
	s.sem.Lock()
	defer s.sem.Unlock()
	s.indexes[name] = &index{name: name, keyFn: keyFn, resolve: resolve}
}

// lookup finds a registered index by name.
func (s *Store) lookup(name string) (*index, error) {
	s.sem.Lock()
	defer s.sem.Unlock()
	idx := s.indexes[name]
	if idx == nil {
		return nil, ErrNoSuchIndex{Name: name}
	}
	return idx, nil
}

// all snapshots the registered indexes.
func (s *Store) all() []*index {
	s.sem.Lock()
	defer s.sem.Unlock()
	result := make([]*index, 0, len(s.indexes))
	for _, idx := range s.indexes {
		result = append(result, idx)
	}
	return result
}

// partitionKey is the backing-store partition for one (index, key
// value) pair.
func (s *Store) partitionKey(indexName, keyValue string) string {
	return "idx/" + s.container.Name() + "/" + indexName + "/" + keyValue
}

// Insert stores a new document in the container, then writes its row
// into every registered index.  Returns the stored document.
func (s *Store) Insert(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	if err := s.container.Insert(ctx, doc); err != nil {
		return nil, err
	}
	meta, err := docstore.ExtractDocumentMeta(doc)
	if err != nil {
		return nil, err
	}
	if err := s.writeRows(ctx, meta.ID, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Reindex updates a document through the container's optimistic
// update protocol, then rewrites its row in every registered index,
// removing stale rows whose key changed.  Passing a mutator that
// changes nothing makes this the administrative "repair this
// document's index rows" operation.
func (s *Store) Reindex(ctx context.Context, id string, mutator func(docstore.Document) error) (docstore.Document, error) {
	// Capture the pre-image of the winning update attempt, so stale
	// rows can be computed from what was actually replaced.
	var before docstore.Document
	doc, err := s.container.Update(ctx, id, func(working docstore.Document) error {
		snapshot, err := docstore.CopyDocument(working)
		if err != nil {
			return err
		}
		before = snapshot
		return mutator(working)
	})
	if err != nil {
		return nil, err
	}

	for _, idx := range s.all() {
		oldKey := idx.keyFn(before)
		newKey := idx.keyFn(doc)
		if oldKey != "" && oldKey != newKey {
			if err := s.deleteRow(ctx, idx.name, oldKey, id); err != nil {
				return nil, err
			}
		}
		if newKey != "" {
			if err := s.insertRow(ctx, idx.name, newKey, id); err != nil {
				return nil, err
			}
		}
	}
	return doc, nil
}

// Deindex removes a document's rows from every registered index.  The
// document itself is untouched; whether it is physically removed or
// kept as a tombstone is the caller's kind policy.
func (s *Store) Deindex(ctx context.Context, id string) error {
	doc, err := s.container.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	for _, idx := range s.all() {
		key := idx.keyFn(doc)
		if key == "" {
			continue
		}
		if err := s.deleteRow(ctx, idx.name, key, id); err != nil {
			return err
		}
	}
	return nil
}

// Fetch returns one page of documents whose index key equals keyValue,
// in ascending id order, with the index's resolve hook applied.
func (s *Store) Fetch(ctx context.Context, indexName, keyValue string, opts PageOptions) (FetchResult, error) {
	idx, err := s.lookup(indexName)
	if err != nil {
		return FetchResult{}, err
	}

	count := opts.Count
	if count <= 0 {
		count = defaultPageSize
	}
	if count > maxPageSize {
		count = maxPageSize
	}

	partition := s.partitionKey(indexName, keyValue)
	var page docstore.Page
	err = s.retry.Run(ctx, s.clock, func() (err error) {
		page, err = s.store.QueryRange(ctx, docstore.RangeQuery{
			PartitionKey: partition,
			Limit:        count,
			Continuation: opts.Continuation,
		})
		return
	})
	if err != nil {
		return FetchResult{}, err
	}

	ids := make([]string, len(page.Entities))
	for i, entity := range page.Entities {
		ids[i] = entity.RowKey
	}
	docs, err := s.container.GetMany(ctx, ids)
	if err != nil {
		return FetchResult{}, err
	}

	// A row can outlive its document across a crash or a racing
	// delete; such holes are skipped, not errors.
	items := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		if doc != nil {
			items = append(items, doc)
		}
	}

	if idx.resolve != nil {
		items, err = idx.resolve(ctx, items)
		if err != nil {
			return FetchResult{}, err
		}
	}
	return FetchResult{Items: items, Continuation: page.Continuation}, nil
}

// FetchAll accumulates every document for an index key by following
// continuations until exhaustion.  It is intended for administrative
// and bulk paths; request paths should page with Fetch.  Returns
// ErrRunawayScan if the key has more than maxScanPages pages.
func (s *Store) FetchAll(ctx context.Context, indexName, keyValue string) ([]docstore.Document, error) {
	var result []docstore.Document
	err := s.ForAllBatched(ctx, indexName, keyValue, maxPageSize, func(batch []docstore.Document) error {
		result = append(result, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ForAllBatched streams every document for an index key to a callback,
// one page at a time, without accumulating them in memory.  If the
// callback returns an error the scan stops and returns it.  Returns
// ErrRunawayScan if the key has more than maxScanPages pages.
func (s *Store) ForAllBatched(ctx context.Context, indexName, keyValue string, batchSize int, perBatch func([]docstore.Document) error) error {
	token := ""
	for pages := 0; ; pages++ {
		if pages >= maxScanPages {
			return ErrRunawayScan
		}
		result, err := s.Fetch(ctx, indexName, keyValue, PageOptions{
			Count:        batchSize,
			Continuation: token,
		})
		if err != nil {
			return err
		}
		if len(result.Items) > 0 {
			if err := perBatch(result.Items); err != nil {
				return err
			}
		}
		if result.Continuation == "" {
			return nil
		}
		token = result.Continuation
	}
}

// Backfill walks every document in the container and writes its rows
// into every registered index.  Run it after creating an index on a
// container that already has data, or to repair index damage.  It is
// idempotent; rows that already exist are left alone.
func (s *Store) Backfill(ctx context.Context, batchSize int) error {
	return s.container.ForEach(ctx, batchSize, func(batch []docstore.Document) error {
		for _, doc := range batch {
			meta, err := docstore.ExtractDocumentMeta(doc)
			if err != nil {
				return err
			}
			if err := s.writeRows(ctx, meta.ID, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeRows writes a document's row into every registered index.
func (s *Store) writeRows(ctx context.Context, id string, doc docstore.Document) error {
	for _, idx := range s.all() {
		key := idx.keyFn(doc)
		if key == "" {
			continue
		}
		if err := s.insertRow(ctx, idx.name, key, id); err != nil {
			return err
		}
	}
	return nil
}

// insertRow writes one index row, tolerating rows that already exist.
func (s *Store) insertRow(ctx context.Context, indexName, keyValue, id string) error {
	body, err := docstore.EncodeDocument(docstore.Document{"id": id})
	if err != nil {
		return err
	}
	err = s.retry.Run(ctx, s.clock, func() error {
		_, err := s.store.InsertEntity(ctx, docstore.Entity{
			PartitionKey: s.partitionKey(indexName, keyValue),
			RowKey:       id,
			Body:         body,
		})
		return err
	})
	if err == docstore.ErrAlreadyExists {
		return nil
	}
	return err
}

// deleteRow removes one index row, tolerating rows that are already
// gone.
func (s *Store) deleteRow(ctx context.Context, indexName, keyValue, id string) error {
	err := s.retry.Run(ctx, s.clock, func() error {
		return s.store.DeleteEntity(ctx, s.partitionKey(indexName, keyValue), id)
	})
	if err == docstore.ErrNotFound {
		return nil
	}
	return err
}
