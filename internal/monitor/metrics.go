// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package monitor exposes link and compute engine counters to Prometheus
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds every collector the hub updates
type Metrics struct {
	registry *prometheus.Registry

	ActiveDevices   prometheus.Gauge
	BytesReceived   *prometheus.CounterVec
	PacketsDecoded  *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	FrameOverflows  *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	CyclesCompleted *prometheus.CounterVec
	CyclesAbandoned *prometheus.CounterVec
	ComputedEmitted *prometheus.CounterVec
	DecodeDuration  prometheus.Histogram
}

// NewMetrics creates and registers the collectors on a private registry,
// together with the Go runtime and process collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ltd_active_devices",
			Help: "Number of connected devices",
		}),
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_bytes_received_total",
			Help: "Raw bytes read from device links",
		}, []string{"device"}),
		PacketsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_packets_decoded_total",
			Help: "Packets that passed every decode check",
		}, []string{"device"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_decode_errors_total",
			Help: "Rejected packets by error kind",
		}, []string{"device", "kind"}),
		FrameOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_frame_overflows_total",
			Help: "Byte runs dropped for exceeding the maximum packet size",
		}, []string{"device"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_packets_sent_total",
			Help: "Packets written to device links",
		}, []string{"device"}),
		CyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_vce_cycles_completed_total",
			Help: "Compute cycles that evaluated every computed parameter",
		}, []string{"device"}),
		CyclesAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_vce_cycles_abandoned_total",
			Help: "Compute cycles dropped after an invalid msg_type sequence",
		}, []string{"device"}),
		ComputedEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltd_vce_computed_readings_total",
			Help: "Computed readings emitted",
		}, []string{"device"}),
		DecodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ltd_decode_duration_seconds",
			Help:    "Time spent decoding one packet",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.ActiveDevices,
		m.BytesReceived,
		m.PacketsDecoded,
		m.DecodeErrors,
		m.FrameOverflows,
		m.PacketsSent,
		m.CyclesCompleted,
		m.CyclesAbandoned,
		m.ComputedEmitted,
		m.DecodeDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry backing the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDecode records the outcome of one decode
func (m *Metrics) ObserveDecode(device string, err error, took time.Duration) {
	m.DecodeDuration.Observe(took.Seconds())
	if err != nil {
		m.DecodeErrors.WithLabelValues(device, ltd.ErrorKind(err)).Inc()
		return
	}
	m.PacketsDecoded.WithLabelValues(device).Inc()
}

// Handler serves the registry in the Prometheus text format, plus a
// /health endpoint
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// StartMetricsServer serves Handler on addr until ctx is done
func (m *Metrics) StartMetricsServer(ctx context.Context, addr string, log logrus.FieldLogger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Infof("Metrics server listening on %s", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}
