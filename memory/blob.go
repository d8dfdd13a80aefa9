// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory

import (
	"context"
	"sync"

	"github.com/diffeo/go-docstore/docstore"
)

// memBlob is a single stored blob.
type memBlob struct {
	data        []byte
	contentType string
}

// memBlobStore is the in-memory BlobStore.
type memBlobStore struct {
	sem   sync.Mutex
	blobs map[string]memBlob
}

// NewBlobStore creates an empty in-memory BlobStore.
func NewBlobStore() docstore.BlobStore {
	return &memBlobStore{blobs: make(map[string]memBlob)}
}

func (store *memBlobStore) GetBlob(ctx context.Context, name string) ([]byte, error) {
	store.sem.Lock()
	defer store.sem.Unlock()

	blob, present := store.blobs[name]
	if !present {
		return nil, docstore.ErrNotFound
	}
	return append([]byte(nil), blob.data...), nil
}

func (store *memBlobStore) PutBlob(ctx context.Context, name string, data []byte, contentType string) error {
	store.sem.Lock()
	defer store.sem.Unlock()

	store.blobs[name] = memBlob{
		data:        append([]byte(nil), data...),
		contentType: contentType,
	}
	return nil
}

func (store *memBlobStore) DeleteBlob(ctx context.Context, name string) error {
	store.sem.Lock()
	defer store.sem.Unlock()

	if _, present := store.blobs[name]; !present {
		return docstore.ErrNotFound
	}
	delete(store.blobs, name)
	return nil
}
