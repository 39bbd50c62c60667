package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
)

// Metrics holds the Prometheus instruments exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	analysesTotal    *prometheus.CounterVec
	analysisDuration prometheus.Histogram
}

// NewMetrics builds and registers the crxlens instruments on a fresh
// registry, alongside the standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crxlens_analyses_total",
			Help: "Analyses by store and outcome (ok or the failing pipeline stage).",
		}, []string{"store", "outcome"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crxlens_analysis_duration_seconds",
			Help:    "Wall time of analyze calls, cache hits included.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.analysesTotal, m.analysisDuration)
	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAnalysis records one analyze call.
func (m *Metrics) ObserveAnalysis(store string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if stage := sharedErrors.Stage(err); stage != "" {
			outcome = stage
		}
	}
	m.analysesTotal.WithLabelValues(store, outcome).Inc()
	m.analysisDuration.Observe(d.Seconds())
}
