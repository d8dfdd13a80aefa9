// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package container

import (
	"github.com/prometheus/client_golang/prometheus"
)

var cacheReads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diffeo",
		Subsystem: "docstore",
		Name:      "cache_reads_total",
		Help:      "Container document reads by cache tier and outcome",
	},
	[]string{
		"container",
		"tier",
		"outcome",
	},
)

var updateConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diffeo",
		Subsystem: "docstore",
		Name:      "update_conflicts_total",
		Help:      "Optimistic-concurrency conflicts absorbed by the update retry loop",
	},
	[]string{
		"container",
	},
)

var updateExhausted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diffeo",
		Subsystem: "docstore",
		Name:      "update_exhausted_total",
		Help:      "Updates abandoned after retrying past the attempt bound",
	},
	[]string{
		"container",
	},
)

func init() {
	prometheus.MustRegister(cacheReads)
	prometheus.MustRegister(updateConflicts)
	prometheus.MustRegister(updateExhausted)
}

// tick records a cache read outcome for one tier.
func tick(container, tier, outcome string) {
	cacheReads.With(prometheus.Labels{
		"container": container,
		"tier":      tier,
		"outcome":   outcome,
	}).Inc()
}

// tickConflict records one absorbed optimistic-concurrency conflict.
func tickConflict(container string) {
	updateConflicts.With(prometheus.Labels{"container": container}).Inc()
}

// tickExhausted records an update abandoned past its attempt bound.
func tickExhausted(container string) {
	updateExhausted.With(prometheus.Labels{"container": container}).Inc()
}
