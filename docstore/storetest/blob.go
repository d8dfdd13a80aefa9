// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package storetest

import (
	"strings"

	"github.com/diffeo/go-docstore/docstore"
)

// name returns a blob name unique to the running test.  The name is
// kept free of path separators so that file-backed blob stores can
// hold it without needing intermediate directories.
func (s *BlobSuite) name(suffix string) string {
	test := strings.Replace(s.T().Name(), "/", "-", -1)
	return "storetest-" + test + "-" + suffix
}

// TestGetAbsent retrieves a blob that was never stored.
func (s *BlobSuite) TestGetAbsent() {
	_, err := s.Blobs.GetBlob(ctx(), s.name("absent"))
	s.Equal(docstore.ErrNotFound, err)
}

// TestPutGet stores a blob and reads it back.
func (s *BlobSuite) TestPutGet() {
	err := s.Blobs.PutBlob(ctx(), s.name("a"), []byte("blob body"), "application/octet-stream")
	s.Require().NoError(err)

	data, err := s.Blobs.GetBlob(ctx(), s.name("a"))
	if s.NoError(err) {
		s.Equal([]byte("blob body"), data)
	}
}

// TestPutOverwrites checks that a second put replaces the contents.
func (s *BlobSuite) TestPutOverwrites() {
	s.Require().NoError(s.Blobs.PutBlob(ctx(), s.name("a"), []byte("one"), "text/plain"))
	s.Require().NoError(s.Blobs.PutBlob(ctx(), s.name("a"), []byte("two"), "text/plain"))

	data, err := s.Blobs.GetBlob(ctx(), s.name("a"))
	if s.NoError(err) {
		s.Equal([]byte("two"), data)
	}
}

// TestDelete removes a blob and checks that it is gone.
func (s *BlobSuite) TestDelete() {
	s.Require().NoError(s.Blobs.PutBlob(ctx(), s.name("a"), []byte("body"), "text/plain"))

	err := s.Blobs.DeleteBlob(ctx(), s.name("a"))
	s.NoError(err)

	_, err = s.Blobs.GetBlob(ctx(), s.name("a"))
	s.Equal(docstore.ErrNotFound, err)

	err = s.Blobs.DeleteBlob(ctx(), s.name("a"))
	s.Equal(docstore.ErrNotFound, err)
}
