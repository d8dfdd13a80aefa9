// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDocumentMeta(t *testing.T) {
	meta, err := ExtractDocumentMeta(Document{"id": "a1", "kind": "user"})
	if assert.NoError(t, err) {
		assert.Equal(t, "a1", meta.ID)
		assert.Equal(t, "user", meta.Kind)
	}
}

func TestExtractDocumentMetaNoID(t *testing.T) {
	_, err := ExtractDocumentMeta(Document{"kind": "user"})
	assert.Equal(t, ErrNoDocumentID, err)
}

func TestExtractDocumentMetaBadID(t *testing.T) {
	_, err := ExtractDocumentMeta(Document{"id": 42})
	assert.Equal(t, ErrBadDocumentID, err)
}

func TestDecodeTypedStruct(t *testing.T) {
	var release struct {
		ID      string `mapstructure:"id"`
		Version string `mapstructure:"version"`
		Yanked  bool   `mapstructure:"yanked"`
	}
	doc := Document{"id": "r1", "kind": "release", "version": "1.2.3", "yanked": true}
	if assert.NoError(t, Decode(doc, &release)) {
		assert.Equal(t, "r1", release.ID)
		assert.Equal(t, "1.2.3", release.Version)
		assert.True(t, release.Yanked)
	}
}

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.Len(t, a, 32)
	assert.Len(t, b, 32)
	assert.NotEqual(t, a, b)
}
