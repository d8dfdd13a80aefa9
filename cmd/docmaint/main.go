// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package docmaint provides the offline maintenance tool for the
// document store.  It rebuilds secondary indexes over existing data,
// which is needed after adding an index to a container that already
// has documents, or after a crash left documents invisible to their
// indexes.
//
// Index definitions come from a YAML configuration file; each index
// keys documents on a single top-level string field.  While a
// maintenance pass runs, its progress metrics are available over HTTP.
package main

import (
	"context"
	"flag"
	"io/ioutil"

	"github.com/diffeo/go-docstore/backend"
	"github.com/diffeo/go-docstore/cloudblob"
	"github.com/diffeo/go-docstore/container"
	"github.com/diffeo/go-docstore/docstore"
	"github.com/diffeo/go-docstore/indexed"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// config is the YAML configuration file structure.
type config struct {
	// Container is the container name to maintain.
	Container string `yaml:"container"`

	// BlobDir, if set, is a local directory holding spilled
	// document bodies.
	BlobDir string `yaml:"blobdir"`

	// Indexes defines the container's secondary indexes.
	Indexes []indexConfig `yaml:"indexes"`
}

// indexConfig defines one field-keyed index.
type indexConfig struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
}

func main() {
	httpBind := flag.String("http", ":5990",
		"[ip]:port for the metrics HTTP interface")
	storage := backend.Backend{Implementation: "memory", Address: ""}
	flag.Var(&storage, "backend", "impl[:address] of the storage backend")
	configFile := flag.String("config", "", "configuration YAML file")
	batch := flag.Int("batch", 100, "documents per maintenance batch")
	flag.Parse()

	cfg, err := loadConfigYaml(*configFile)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"err": err,
		}).Fatal("Could not load YAML configuration")
		return
	}
	if cfg.Container == "" {
		logrus.Fatal("Configuration must name a container")
		return
	}
	if len(cfg.Indexes) == 0 {
		logrus.Fatal("Configuration must define at least one index")
		return
	}

	store, err := storage.Store()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"err": err,
		}).Fatal("Could not create storage backend")
		return
	}

	opts := container.Options{
		Name:  cfg.Container,
		Store: store,
	}
	if cfg.BlobDir != "" {
		bucket, err := fileblob.NewBucket(cfg.BlobDir)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"blobdir": cfg.BlobDir,
				"err":     err,
			}).Fatal("Could not open blob directory")
			return
		}
		opts.Blobs = cloudblob.New(bucket)
	}
	c, err := container.New(opts)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"err": err,
		}).Fatal("Could not create container")
		return
	}

	idx := indexed.New(c)
	for _, index := range cfg.Indexes {
		idx.CreateIndex(index.Name, fieldKey(index.Field), nil)
	}

	go ServeHTTP(*httpBind)

	logrus.WithFields(logrus.Fields{
		"container": cfg.Container,
		"indexes":   len(cfg.Indexes),
	}).Info("Backfilling indexes")
	if err := idx.Backfill(context.Background(), *batch); err != nil {
		logrus.WithFields(logrus.Fields{
			"err": err,
		}).Fatal("Backfill failed")
		return
	}
	logrus.Info("Backfill complete")
}

// fieldKey builds an index key function that reads one top-level
// string field.  Documents without the field stay unindexed.
func fieldKey(field string) indexed.KeyFunc {
	return func(doc docstore.Document) string {
		value, _ := doc[field].(string)
		return value
	}
}

func loadConfigYaml(filename string) (config, error) {
	var result config
	if filename == "" {
		return result, nil
	}
	bytes, err := ioutil.ReadFile(filename)
	if err == nil {
		err = yaml.Unmarshal(bytes, &result)
	}
	return result, err
}
