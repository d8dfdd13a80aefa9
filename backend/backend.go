// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package backend provides a standard way to construct a docstore
// entity store based on command-line flags.
package backend

import (
	"errors"
	"strings"

	"github.com/diffeo/go-docstore/docstore"
	"github.com/diffeo/go-docstore/memory"
	"github.com/diffeo/go-docstore/postgres"
)

// Backend describes user-visible parameters to store documents.  This
// implements the flag.Value interface, and so a typical use is
//
//	func main() {
//	    backend := backend.Backend{Implementation: "memory"}
//	    flag.Var(&backend, "backend", "impl:address of document storage")
//	    flag.Parse()
//	    store, err := backend.Store()
//	}
type Backend struct {
	// Implementation holds the name of the implementation; for
	// instance, "memory" or "postgres".
	Implementation string

	// Address holds some backend-specific address, such as a
	// database connect string.
	Address string
}

// Store creates a new entity store.  This generally should be only
// called once.  If the backend has in-process state, such as a
// database connection pool or an in-memory store, calling this
// multiple times will create multiple copies of that state.  In
// particular, if b.Implementation is "memory", multiple calls to this
// will create multiple independent document "worlds".
func (b *Backend) Store() (docstore.Store, error) {
	switch b.Implementation {
	case "memory":
		return memory.NewStore(), nil
	case "postgres":
		return postgres.New(b.Address)
	default:
		return nil, errors.New("unknown docstore backend " + b.Implementation)
	}
}

// String renders a backend description as a string.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set parses a string into an existing backend description.  The
// string should be of the form "implementation:address", where address
// can be any string.  Set checks to see if the provided implementation
// is any of the known implementations, and returns an appropriate
// error if not.
//
// This is part of the flag.Value interface.  If Set returns a nil
// error then Store() will not fail on the implementation name.  Note
// that neither function attempts to validate the b.Address part of the
// string.
func (b *Backend) Set(param string) error {
	parts := strings.SplitN(param, ":", 2)
	b.Implementation = parts[0]
	b.Address = ""
	if len(parts) == 2 {
		b.Address = parts[1]
	}
	switch b.Implementation {
	case "memory", "postgres":
		return nil
	default:
		return errors.New("unknown docstore backend " + b.Implementation)
	}
}
