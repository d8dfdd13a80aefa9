// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package cachelock

import (
	"github.com/prometheus/client_golang/prometheus"
)

var lockAcquires = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diffeo",
		Subsystem: "docstore",
		Name:      "lock_acquires_total",
		Help:      "Cache lock acquisition attempts by outcome",
	},
	[]string{
		"outcome",
	},
)

var unlockedComputes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "diffeo",
		Subsystem: "docstore",
		Name:      "lock_unlocked_computes_total",
		Help:      "Guarded computations that ran without the lock after exhausting the wait budget",
	},
)

func init() {
	prometheus.MustRegister(lockAcquires)
	prometheus.MustRegister(unlockedComputes)
}

// tickAcquire records one lock acquisition attempt.
func tickAcquire(outcome string) {
	lockAcquires.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// tickUnlockedCompute records a computation that gave up on the lock.
func tickUnlockedCompute() {
	unlockedComputes.Inc()
}
