// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package docstore

import (
	"encoding/hex"
	"errors"

	"github.com/mitchellh/mapstructure"
	"github.com/satori/go.uuid"
)

// ErrNoDocumentID is returned from functions that need a document's
// "id" field but cannot find it.
var ErrNoDocumentID = errors.New("No 'id' key in document")

// ErrBadDocumentID is returned from functions that find an "id" field
// that is not a string.
var ErrBadDocumentID = errors.New("Document 'id' must be a string")

// DocumentMeta holds the fields every stored document carries by
// convention.  Kind-specific code layers its own typed struct on top of
// this via Decode.
type DocumentMeta struct {
	// ID uniquely identifies the document within its container.  It
	// is immutable once assigned.
	ID string `mapstructure:"id"`

	// Kind is the logical entity type, e.g. "user" or "release".
	// Kind-specific resolvers and deletion policy dispatch on it.
	Kind string `mapstructure:"kind"`
}

// ExtractDocumentMeta pulls the conventional metadata fields out of a
// document.  Returns ErrNoDocumentID if "id" is absent or empty, and
// ErrBadDocumentID if it is not a string.
func ExtractDocumentMeta(doc Document) (meta DocumentMeta, err error) {
	if raw, present := doc["id"]; present {
		if _, ok := raw.(string); !ok {
			return meta, ErrBadDocumentID
		}
	}
	if err = Decode(doc, &meta); err != nil {
		return
	}
	if meta.ID == "" {
		err = ErrNoDocumentID
	}
	return
}

// Decode fills in a typed struct from a document.  Business code works
// in explicit per-kind structs; the generic Document representation
// exists only at the storage boundary, and this is the bridge between
// the two.  Fields map by lowercased name or a "mapstructure" tag.
func Decode(doc Document, out interface{}) error {
	config := mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(&config)
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(doc))
}

// NewID generates a fresh document id: 32 hex characters derived from
// a random UUID.  Callers with a natural key should prefer a
// deterministic hash of it instead, so duplicate inserts collide.
func NewID() string {
	id := uuid.NewV4()
	return hex.EncodeToString(id.Bytes())
}
