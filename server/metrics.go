package server

import (
	"net/http"
	"time"

	"github.com/orian/rulerepo/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the repository server's Prometheus collectors. Each Metrics
// has its own registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	commits        *prometheus.CounterVec
	deletes        *prometheus.CounterVec
	finds          *prometheus.CounterVec
	commitDuration prometheus.Histogram
	sessions       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulerepo",
			Name:      "commits_total",
			Help:      "Change-set commits by root kind and outcome.",
		}, []string{"kind", "outcome"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulerepo",
			Name:      "deletes_total",
			Help:      "Element deletions by outcome.",
		}, []string{"outcome"}),
		finds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulerepo",
			Name:      "finds_total",
			Help:      "Element searches by kind.",
		}, []string{"kind"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rulerepo",
			Name:      "commit_duration_seconds",
			Help:      "Time spent applying a change set.",
			Buckets:   prometheus.DefBuckets,
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rulerepo",
			Name:      "open_sessions",
			Help:      "Currently open client sessions.",
		}),
	}

	m.registry.MustRegister(
		m.commits,
		m.deletes,
		m.finds,
		m.commitDuration,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) observeCommit(kind models.Kind, started time.Time, err error) {
	m.commitDuration.Observe(time.Since(started).Seconds())
	m.commits.WithLabelValues(string(kind), outcome(err)).Inc()
}

func (m *Metrics) observeDelete(err error) {
	m.deletes.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observeFind(kind models.Kind) {
	m.finds.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) setSessions(n int) {
	m.sessions.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return models.CodeOf(err)
}
