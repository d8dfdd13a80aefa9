// Copyright 2016-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package docbench provides a load-generation tool for the document
// store.
package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diffeo/go-docstore/backend"
	"github.com/diffeo/go-docstore/container"
	"github.com/diffeo/go-docstore/docstore"
	"github.com/diffeo/go-docstore/indexed"
	"github.com/diffeo/go-docstore/memory"
	uuid "github.com/satori/go.uuid"
	"github.com/urfave/cli"
)

type benchWork struct {
	Container   *container.Container
	Indexed     *indexed.Store
	Concurrency int
}

func (bench *benchWork) Run(runner func()) {
	wg := sync.WaitGroup{}
	wg.Add(bench.Concurrency)
	for i := 0; i < bench.Concurrency; i++ {
		go func() {
			defer wg.Done()
			runner()
		}()
	}
	wg.Wait()
}

var bench benchWork

var addDocs = cli.Command{
	Name:  "add",
	Usage: "create many documents",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "count",
			Value: 100,
			Usage: "number of documents to create",
		},
	},
	Action: func(c *cli.Context) {
		count := c.Int("count")
		ctx := context.Background()
		numbers := make(chan int)
		go func() {
			for i := 1; i <= count; i++ {
				numbers <- i
			}
			close(numbers)
		}()
		var failures int64
		bench.Run(func() {
			for n := range numbers {
				_, err := bench.Indexed.Insert(ctx, docstore.Document{
					"id":    uuid.NewV4().String(),
					"kind":  "bench",
					"shard": fmt.Sprintf("s%02d", n%16),
				})
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		})
		if failures > 0 {
			fmt.Printf("%v inserts failed\n", failures)
		}
	},
}

var updateDoc = cli.Command{
	Name:  "update",
	Usage: "hammer one document with concurrent counter updates",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "count",
			Value: 100,
			Usage: "number of increments per worker",
		},
	},
	Action: func(c *cli.Context) {
		count := c.Int("count")
		ctx := context.Background()
		start := time.Now()
		var conflicts int64
		bench.Run(func() {
			for i := 0; i < count; i++ {
				_, err := bench.Container.Update(ctx, "bench-counter", func(doc docstore.Document) error {
					var n int64
					switch v := doc["n"].(type) {
					case int64:
						n = v
					case uint64:
						n = int64(v)
					}
					doc["n"] = n + 1
					return nil
				})
				if err == docstore.ErrConcurrencyExhausted {
					atomic.AddInt64(&conflicts, 1)
				}
			}
		})
		elapsed := time.Since(start)
		total := bench.Concurrency * count
		fmt.Printf("%v updates in %v (%.0f/s), %v abandoned\n",
			total, elapsed, float64(total)/elapsed.Seconds(), conflicts)
	},
}

var fetchDocs = cli.Command{
	Name:  "fetch",
	Usage: "page through one shard's documents by index",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "shard",
			Value: "s00",
			Usage: "shard key to fetch",
		},
		cli.IntFlag{
			Name:  "page",
			Value: 100,
			Usage: "page size",
		},
	},
	Action: func(c *cli.Context) error {
		ctx := context.Background()
		var fetched int
		err := bench.Indexed.ForAllBatched(ctx, "shard", c.String("shard"), c.Int("page"), func(batch []docstore.Document) error {
			fetched += len(batch)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("fetched %v documents\n", fetched)
		return nil
	},
}

func main() {
	storage := backend.Backend{Implementation: "memory"}
	app := cli.NewApp()
	app.Usage = "benchmark the document store"
	app.Flags = []cli.Flag{
		cli.GenericFlag{
			Name:  "backend",
			Value: &storage,
			Usage: "impl:[address] of document storage",
		},
		cli.StringFlag{
			Name:  "container",
			Value: "bench",
			Usage: "container name",
		},
		cli.IntFlag{
			Name:  "concurrency",
			Value: runtime.NumCPU(),
			Usage: "run this many jobs in parallel",
		},
	}
	app.Commands = []cli.Command{
		addDocs,
		updateDoc,
		fetchDocs,
	}
	app.Before = func(c *cli.Context) error {
		store, err := storage.Store()
		if err != nil {
			return err
		}
		bench.Container, err = container.New(container.Options{
			Name:  c.String("container"),
			Store: store,
			Cache: memory.NewCache(),
		})
		if err != nil {
			return err
		}
		bench.Indexed = indexed.New(bench.Container)
		bench.Indexed.CreateIndex("shard", func(doc docstore.Document) string {
			shard, _ := doc["shard"].(string)
			return shard
		}, nil)
		bench.Concurrency = c.Int("concurrency")
		return nil
	}
	app.RunAndExitOnError()
}
