// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics holds the Prometheus collectors shared by the scraper, mirror and client layers.
// All methods are safe on a nil *Metrics so tests can skip registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "abbot"

type Metrics struct {
	registry *prometheus.Registry

	PermitsAcquired   *prometheus.CounterVec
	PermitsInFlight   prometheus.Gauge
	PermitWait        prometheus.Histogram
	MirrorProbes      *prometheus.CounterVec
	MirrorResolutions *prometheus.CounterVec
	PageFetches       *prometheus.CounterVec
	SearchDuration    prometheus.Histogram
	ClientOperations  *prometheus.CounterVec
}

// New creates a private registry with Go and process collectors plus the application metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		PermitsAcquired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_permits_acquired_total",
			Help:      "Permits granted by the request governor",
		}, []string{"kind"}),
		PermitsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "governor_permits_in_flight",
			Help:      "Permits currently held",
		}),
		PermitWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "governor_wait_seconds",
			Help:      "Time spent waiting for a permit including jitter",
			Buckets:   prometheus.DefBuckets,
		}),
		MirrorProbes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_probes_total",
			Help:      "Mirror reachability probes by outcome",
		}, []string{"outcome"}), // reachable | unreachable
		MirrorResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_resolutions_total",
			Help:      "Mirror resolutions by result",
		}, []string{"result"}), // cached | probed | negative | failed
		PageFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_page_fetches_total",
			Help:      "Listing and detail page fetches by status",
		}, []string{"kind", "status"}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scraper_search_duration_seconds",
			Help:      "Wall time of a full search across pages",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		ClientOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torrent_client_operations_total",
			Help:      "Torrent client operations by backend, operation and result",
		}, []string{"backend", "op", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PermitAcquired(kind string) {
	if m == nil {
		return
	}
	m.PermitsAcquired.WithLabelValues(kind).Inc()
	m.PermitsInFlight.Inc()
}

func (m *Metrics) ObservePermitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PermitWait.Observe(d.Seconds())
}

func (m *Metrics) PermitReleased() {
	if m == nil {
		return
	}
	m.PermitsInFlight.Dec()
}

func (m *Metrics) Probe(reachable bool) {
	if m == nil {
		return
	}
	outcome := "unreachable"
	if reachable {
		outcome = "reachable"
	}
	m.MirrorProbes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Resolution(result string) {
	if m == nil {
		return
	}
	m.MirrorResolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) PageFetch(kind, status string) {
	if m == nil {
		return
	}
	m.PageFetches.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
}

func (m *Metrics) ClientOp(backend, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ClientOperations.WithLabelValues(backend, op, result).Inc()
}
