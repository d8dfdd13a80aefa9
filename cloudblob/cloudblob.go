// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package cloudblob adapts a Go Cloud blob.Bucket to the docstore
// BlobStore interface.  The bucket can be backed by local files, S3,
// or GCS; pick the backend by constructing the bucket with the
// corresponding Go Cloud driver and handing it to New.
package cloudblob

import (
	"context"
	"io/ioutil"

	"github.com/diffeo/go-docstore/docstore"
	"github.com/google/go-cloud/blob"
)

type blobStore struct {
	bucket *blob.Bucket
}

// New creates a docstore.BlobStore over an open bucket.  The caller
// retains ownership of the bucket.
func New(bucket *blob.Bucket) docstore.BlobStore {
	return &blobStore{bucket: bucket}
}

func (store *blobStore) GetBlob(ctx context.Context, name string) ([]byte, error) {
	reader, err := store.bucket.NewReader(ctx, name)
	if err != nil {
		if blob.IsNotExist(err) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	defer reader.Close()
	return ioutil.ReadAll(reader)
}

func (store *blobStore) PutBlob(ctx context.Context, name string, data []byte, contentType string) error {
	writer, err := store.bucket.NewWriter(ctx, name, &blob.WriterOptions{
		ContentType: contentType,
	})
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		// The write failed; Close still has to run to release the
		// underlying upload, but its error is secondary.
		writer.Close()
		return err
	}
	return writer.Close()
}

func (store *blobStore) DeleteBlob(ctx context.Context, name string) error {
	err := store.bucket.Delete(ctx, name)
	if blob.IsNotExist(err) {
		return docstore.ErrNotFound
	}
	return err
}
