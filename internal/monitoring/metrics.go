// Package monitoring counts what a run did and reports it: Prometheus
// metrics, an end-of-run summary and threshold alerts.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "muni_enrich"

// Metrics holds the Prometheus collectors for one run. It implements
// cache.Observer and fetcher.Observer.
type Metrics struct {
	registry *prometheus.Registry

	CacheLookups     *prometheus.CounterVec // labels: cache, result={hit,miss}
	UpstreamRequests *prometheus.CounterVec // labels: service, outcome={ok,retryable,failed}
	Entities         *prometheus.CounterVec // labels: status
	BreakerOpen      prometheus.Gauge
	RunDuration      prometheus.Gauge

	tally tally
}

type tally struct {
	cacheHits, cacheMisses  int
	upstreamOK, upstreamBad int
}

// NewMetrics creates the run metrics on a private registry, so a process can
// build more than one set (tests, repeated runs).
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Persistent cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Outbound HTTP attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		Entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Emitted records by status.",
		}, []string{"status"}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "route_breaker_open",
			Help:      "1 when the routing circuit breaker is open.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	m.registry.MustRegister(
		m.CacheLookups,
		m.UpstreamRequests,
		m.Entities,
		m.BreakerOpen,
		m.RunDuration,
	)
	return m
}

// CacheResult records one cache lookup.
func (m *Metrics) CacheResult(cache, result string) {
	m.CacheLookups.WithLabelValues(cache, result).Inc()
	if result == "hit" {
		m.tally.cacheHits++
	} else {
		m.tally.cacheMisses++
	}
}

// UpstreamResult records one outbound attempt.
func (m *Metrics) UpstreamResult(service, outcome string) {
	m.UpstreamRequests.WithLabelValues(service, outcome).Inc()
	if outcome == "ok" {
		m.tally.upstreamOK++
	} else {
		m.tally.upstreamBad++
	}
}

// EntityEmitted records one output record.
func (m *Metrics) EntityEmitted(status string) {
	m.Entities.WithLabelValues(status).Inc()
}

// SetBreakerOpen mirrors the routing breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

// WriteTextfile writes every metric in the Prometheus text format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}
