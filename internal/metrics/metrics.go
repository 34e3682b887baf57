// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the gateway.
//
// Every method is safe to call on a nil *Metrics, so components can be
// built without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rootgate"

// Metrics holds the gateway's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	rateLimited    prometheus.Counter
	downstream     *prometheus.CounterVec
	downstreamTime *prometheus.HistogramVec
	batchFlushes   prometheus.Counter
	batchSize      prometheus.Histogram
	credits        *prometheus.GaugeVec
	creditStatus   *prometheus.GaugeVec
}

// New creates and registers all collectors. Process and Go runtime
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Routed queries by intent, tool and outcome.",
		}, []string{"intent", "tool", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Downstream calls rejected by the rate gate.",
		}),
		downstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_calls_total",
			Help:      "Downstream calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		downstreamTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "downstream_call_duration_seconds",
			Help:      "Downstream call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		batchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batch queue flushes.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Units per batch flush.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		credits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credits_remaining",
			Help:      "Last known credits balance per provider.",
		}, []string{"provider"}),
		creditStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credits_status",
			Help:      "Credit status per provider (0=ok 1=warning 2=critical 3=exhausted).",
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queries,
		m.cacheLookups,
		m.rateLimited,
		m.downstream,
		m.downstreamTime,
		m.batchFlushes,
		m.batchSize,
		m.credits,
		m.creditStatus,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQuery records one routed query.
func (m *Metrics) ObserveQuery(intent, tool string, success bool) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "none"
	}
	m.queries.WithLabelValues(intent, tool, outcome(success)).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRateLimited records a rate gate rejection.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// ObserveDownstream records a downstream call and its latency.
func (m *Metrics) ObserveDownstream(endpoint string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.downstream.WithLabelValues(endpoint, outcome(success)).Inc()
	m.downstreamTime.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveBatchFlush records a batch flush.
func (m *Metrics) ObserveBatchFlush(size, failed int) {
	if m == nil {
		return
	}
	m.batchFlushes.Inc()
	m.batchSize.Observe(float64(size))
}

// SetCredits records a provider's balance and status level.
func (m *Metrics) SetCredits(provider string, credits int, statusLevel int) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues(provider).Set(float64(credits))
	m.creditStatus.WithLabelValues(provider).Set(float64(statusLevel))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
