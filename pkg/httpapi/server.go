// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi is the small operational HTTP surface every pipeline
// component exposes: a liveness/readiness check and a Prometheus scrape
// endpoint. It carries no pipeline traffic itself.
package httpapi

import (
	"context"
	"net/http"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports the current health of a component. A non-nil error
// means unhealthy; its message is included in the response body.
type HealthFunc func() error

// Server is the operational HTTP listener for one pipeline component.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server bound to addr, serving /healthz (backed by
// healthFn) and /metrics (the process's registered Prometheus collectors).
func NewServer(addr string, healthFn HealthFunc) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := healthFn(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Start begins serving in a background goroutine. Bind or accept errors
// other than the expected "server closed" one are logged as fatal, the
// same severity cmd/cc-backend gives its own listener failures.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Fatalf("httpapi: listen failed: %s", err.Error())
		}
	}()
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// finish, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
