// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres_test

import (
	"testing"

	"github.com/diffeo/go-docstore/docstore/storetest"
	"github.com/diffeo/go-docstore/postgres"
	"github.com/stretchr/testify/suite"
)

// TestPostgres runs the generic store conformance suite against a live
// PostgreSQL server.
//
// This connects using an empty connection string, so the server is
// selected entirely by libpq environment variables; see
// http://www.postgresql.org/docs/current/static/libpq-envars.html.
// If no server is reachable the suite is skipped, not failed.
func TestPostgres(t *testing.T) {
	db, err := postgres.OpenDB("")
	if err != nil {
		t.Skipf("cannot reach PostgreSQL: %v", err)
	}
	defer db.Close()

	// Start from an empty schema so reruns do not see the previous
	// run's rows.
	if err := postgres.Drop(db); err != nil {
		t.Fatalf("cannot reset schema: %v", err)
	}
	store, err := postgres.NewWithDB(db)
	if err != nil {
		t.Fatalf("cannot create store: %v", err)
	}
	suite.Run(t, &storetest.StoreSuite{Store: store})
}
