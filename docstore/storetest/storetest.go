// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package storetest provides generic functional tests for the docstore
// interfaces.  A typical backend test module wraps the suite for its
// own implementation:
//
//     package mybackend
//
//     import (
//             "testing"
//             "github.com/diffeo/go-docstore/docstore/storetest"
//             "github.com/stretchr/testify/suite"
//     )
//
//     type Suite struct {
//             storetest.StoreSuite
//     }
//
//     func (s *Suite) SetupTest() {
//             s.Store = New()
//     }
//
//     func TestStore(t *testing.T) {
//             suite.Run(t, &Suite{})
//     }
//
// CacheSuite and BlobSuite work the same way for Cache and BlobStore
// implementations.  Every test derives its keys from the test name, so
// a backend with persistent state can run the suite against a single
// shared database.
package storetest

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-docstore/docstore"
	"github.com/stretchr/testify/suite"
)

// StoreSuite is the generic Store contract test suite.
type StoreSuite struct {
	suite.Suite

	// Store contains the implementation under test.  It is set by
	// importing packages, typically in SetupTest.
	Store docstore.Store
}

// CacheSuite is the generic Cache contract test suite.
type CacheSuite struct {
	suite.Suite

	// Clock is the alternate time source used to exercise TTL
	// expiry.  It is pre-initialized to a mock clock in SetupTest;
	// importing packages must build their Cache on top of it.
	Clock *clock.Mock

	// Cache contains the implementation under test.  It is set by
	// importing packages, typically in SetupTest after the embedded
	// SetupTest has run.
	Cache docstore.Cache
}

// SetupTest resets the mock clock.  Importing packages that override
// SetupTest must call this first.
func (s *CacheSuite) SetupTest() {
	s.Clock = clock.NewMock()
}

// BlobSuite is the generic BlobStore contract test suite.
type BlobSuite struct {
	suite.Suite

	// Blobs contains the implementation under test.  It is set by
	// importing packages, typically in SetupTest.
	Blobs docstore.BlobStore
}

// ctx is shorthand for the background context used throughout the
// suites.
func ctx() context.Context {
	return context.Background()
}
