// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres

// entityTable is the single table holding every partition's entity
// rows.
const entityTable = "entities"

// defaultPageSize is the page size for range queries that do not
// specify one.
const defaultPageSize = 100
