package querier

import (
	"errors"
	"time"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records store loads and queries. A nil *Metrics records nothing.
type Metrics struct {
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	loadedFiles  *prometheus.CounterVec
	queries      *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec
	openStores   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestwatch_store_loads_total",
			Help: "Store loads by outcome",
		}, []string{"outcome"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestwatch_store_load_duration_seconds",
			Help:    "Time spent fetching and loading a store",
			Buckets: prometheus.DefBuckets,
		}),
		loadedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestwatch_loaded_files_total",
			Help: "File observations loaded by partition",
		}, []string{"partition"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestwatch_queries_total",
			Help: "Queries by scope and outcome",
		}, []string{"scope", "outcome"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestwatch_query_duration_seconds",
			Help:    "Query execution time by scope",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		openStores: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestwatch_cached_stores",
			Help: "Stores currently held by the cache",
		}),
	}
	reg.MustRegister(m.loads, m.loadDuration, m.loadedFiles, m.queries, m.queryLatency, m.openStores)
	return m
}

func (m *Metrics) loaded(d time.Duration, counts map[records.Partition]int) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues("ok").Inc()
	m.loadDuration.Observe(d.Seconds())
	for p, n := range counts {
		m.loadedFiles.WithLabelValues(string(p)).Add(float64(n))
	}
}

func (m *Metrics) loadFailed(err error) {
	if m == nil {
		return
	}
	outcome := "error"
	switch {
	case errors.Is(err, core.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, core.ErrMalformedInput):
		outcome = "malformed"
	}
	m.loads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) queried(scope core.Scope, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if core.IsQueryError(err) {
			outcome = "query_error"
		}
	}
	m.queries.WithLabelValues(string(scope), outcome).Inc()
	m.queryLatency.WithLabelValues(string(scope)).Observe(d.Seconds())
}

func (m *Metrics) cached(n int) {
	if m == nil {
		return
	}
	m.openStores.Set(float64(n))
}
