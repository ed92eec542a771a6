// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jobcmd

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsShutdownTimeout = 5 * time.Second

// metricsServer serves the service metrics over HTTP. The zero value
// serves nothing.
type metricsServer struct {
	registry *prometheus.Registry
	server   *http.Server
	addr     net.Addr
	done     chan struct{}
}

// startMetrics listens on addr, if it is not empty, and serves /metrics.
func startMetrics(addr string) (*metricsServer, error) {
	if addr == "" {
		return &metricsServer{}, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening for metrics on %q", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m := &metricsServer{
		registry: registry,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr: listener.Addr(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Errorf("serving metrics: %v", err)
		}
	}()
	logger.Infof("serving metrics on %s", m.addr)
	return m, nil
}

// Registerer returns the registry services add their collectors to, or nil
// if metrics are not served.
func (m *metricsServer) Registerer() prometheus.Registerer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// Close stops serving.
func (m *metricsServer) Close() {
	if m.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		logger.Warningf("stopping metrics server: %v", err)
	}
	<-m.done
}
