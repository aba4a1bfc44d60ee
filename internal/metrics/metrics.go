// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics holds the Prometheus collectors of the gateway. Every
// method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "switchai"

// Metrics owns a private registry so several servers can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	routingDecisions *prometheus.CounterVec
	upstreamAttempts *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	fallbacksTotal   *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	dedupLookups     *prometheus.CounterVec
	costUSD          *prometheus.CounterVec
	savingsRatio     prometheus.Histogram
}

// New creates and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
		}, []string{"method", "path"}),
		routingDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by tier and profile",
		}, []string{"tier", "profile", "model"}),
		upstreamAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream attempts by model and outcome",
		}, []string{"model", "outcome"}),
		upstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "attempt_duration_seconds",
			Help:      "Upstream attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		}, []string{"model"}),
		fallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fallbacks_total",
			Help:      "Requests served by a model other than the first choice",
		}, []string{"from", "to"}),
		rateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "rate_limited_total",
			Help:      "Upstream 429 responses by model",
		}, []string{"model"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		dedupLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "lookups_total",
			Help:      "Deduplicator lookups by result",
		}, []string{"result"}),
		costUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "cost_usd_total",
			Help:      "Estimated spend in USD by model",
		}, []string{"model"}),
		savingsRatio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "savings_ratio",
			Help:      "Savings against the baseline model per request",
			Buckets:   []float64{0, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveRouting records a routing decision.
func (m *Metrics) ObserveRouting(tier, profile, model string) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(tier, profile, model).Inc()
}

// ObserveAttempt records one upstream attempt.
func (m *Metrics) ObserveAttempt(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamAttempts.WithLabelValues(model, outcome).Inc()
	m.upstreamDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveFallback records a request served by a later chain entry.
func (m *Metrics) ObserveFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// ObserveRateLimited records an upstream 429.
func (m *Metrics) ObserveRateLimited(model string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(model).Inc()
}

// ObserveCache records a cache lookup; result is "hit" or "miss".
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveDedup records a deduplicator lookup; result is "completed",
// "inflight" or "miss".
func (m *Metrics) ObserveDedup(result string) {
	if m == nil {
		return
	}
	m.dedupLookups.WithLabelValues(result).Inc()
}

// ObserveUsage records the estimated cost and savings of a request.
func (m *Metrics) ObserveUsage(model string, costUSD, savings float64) {
	if m == nil {
		return
	}
	m.costUSD.WithLabelValues(model).Add(costUSD)
	m.savingsRatio.Observe(savings)
}
