// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/diffeo/go-docstore/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigYaml(t *testing.T) {
	dir, err := ioutil.TempDir("", "docmaint")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	filename := filepath.Join(dir, "config.yaml")
	require.NoError(t, ioutil.WriteFile(filename, []byte(`
container: docs
blobdir: /var/lib/docstore/blobs
indexes:
  - name: by-color
    field: color
  - name: by-owner
    field: owner
`), 0644))

	cfg, err := loadConfigYaml(filename)
	require.NoError(t, err)
	assert.Equal(t, "docs", cfg.Container)
	assert.Equal(t, "/var/lib/docstore/blobs", cfg.BlobDir)
	if assert.Len(t, cfg.Indexes, 2) {
		assert.Equal(t, indexConfig{Name: "by-color", Field: "color"}, cfg.Indexes[0])
		assert.Equal(t, indexConfig{Name: "by-owner", Field: "owner"}, cfg.Indexes[1])
	}
}

func TestLoadConfigYamlEmptyFilename(t *testing.T) {
	cfg, err := loadConfigYaml("")
	assert.NoError(t, err)
	assert.Equal(t, config{}, cfg)
}

func TestFieldKey(t *testing.T) {
	key := fieldKey("color")
	assert.Equal(t, "red", key(docstore.Document{"color": "red"}))
	assert.Equal(t, "", key(docstore.Document{}))
	assert.Equal(t, "", key(docstore.Document{"color": 7}))
}
