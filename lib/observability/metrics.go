// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package observability exposes the bridge server's Prometheus
// metrics. Each Metrics value owns a private registry, so tests can
// create as many as they like without collisions.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "framebridge"

// Metrics holds the server's counters and gauges.
type Metrics struct {
	registry *prometheus.Registry

	// ClientConnected is 1 while a client holds the pipe.
	ClientConnected prometheus.Gauge

	// ActiveSession is 1 while a capture process is running.
	ActiveSession prometheus.Gauge

	// SessionsStarted counts successful launches.
	SessionsStarted prometheus.Counter

	// SessionsFailed counts failed launches by cause.
	SessionsFailed *prometheus.CounterVec

	// CaptureExits counts capture processes that exited on their own,
	// by outcome: clean, access_denied, or error.
	CaptureExits *prometheus.CounterVec

	// FramesAccepted counts CSV rows that produced a metrics push.
	FramesAccepted prometheus.Counter

	// FramesRejected counts CSV rows discarded, by reason.
	FramesRejected *prometheus.CounterVec

	// PushesDropped counts metrics pushes discarded because the client
	// fell behind.
	PushesDropped prometheus.Counter

	// Requests counts client requests by kind.
	Requests *prometheus.CounterVec
}

// New creates a Metrics with every collector registered, alongside the
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ClientConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_connected",
			Help:      "Whether a client is connected to the pipe",
		}),
		ActiveSession: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_active",
			Help:      "Whether a capture process is running",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_started_total",
			Help:      "Capture processes launched",
		}),
		SessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_failed_total",
			Help:      "Capture launches that failed, by cause",
		}, []string{"cause"}),
		CaptureExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_exits_total",
			Help:      "Capture processes that exited without being stopped, by outcome",
		}, []string{"outcome"}),
		FramesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_accepted_total",
			Help:      "Capture rows that produced a metrics push",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Capture rows discarded, by reason",
		}, []string{"reason"}),
		PushesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_dropped_total",
			Help:      "Metrics pushes dropped because the client fell behind",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests received, by kind",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.ClientConnected,
		m.ActiveSession,
		m.SessionsStarted,
		m.SessionsFailed,
		m.CaptureExits,
		m.FramesAccepted,
		m.FramesRejected,
		m.PushesDropped,
		m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on address and serves /metrics until ctx is cancelled.
// It returns nil after a clean shutdown.
func (m *Metrics) Serve(ctx context.Context, address string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	return m.serve(ctx, listener, logger)
}

func (m *Metrics) serve(ctx context.Context, listener net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownContext)
	}()

	logger.Info("metrics endpoint listening", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}
