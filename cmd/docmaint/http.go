// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"
)

// ServeHTTP runs the metrics HTTP server on the specified local
// address.  This serves connections forever and probably wants to be
// run in a goroutine.
func ServeHTTP(laddr string) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	n := negroni.New(negroni.NewRecovery(), negroni.NewLogger())
	n.UseHandler(r)
	http.ListenAndServe(laddr, n)
}
