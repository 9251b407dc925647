package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/recstore/internal/index"
)

type metrics struct {
	// saves counts save attempts by result (ok, failed)
	saves *prometheus.CounterVec

	// saveFailures counts failed saves by the stage that failed
	saveFailures *prometheus.CounterVec

	// exports counts export-audit records by result
	exports *prometheus.CounterVec

	// persistDuration tracks snapshot persist latency
	persistDuration prometheus.Histogram

	// quarantined counts orphan blobs moved aside to retry a save
	quarantined prometheus.Counter

	documents prometheus.Gauge
	versions  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recstore_saves_total",
			Help: "Total record saves by result",
		}, []string{"result"}),
		saveFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recstore_save_failures_total",
			Help: "Failed record saves by the stage that failed",
		}, []string{"stage"}),
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recstore_exports_total",
			Help: "Total export-audit records by result",
		}, []string{"result"}),
		persistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recstore_persist_duration_seconds",
			Help:    "Snapshot persist duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		quarantined: f.NewCounter(prometheus.CounterOpts{
			Name: "recstore_blobs_quarantined_total",
			Help: "Orphan blobs moved aside so a save could be retried",
		}),
		documents: f.NewGauge(prometheus.GaugeOpts{
			Name: "recstore_documents",
			Help: "Documents in the index",
		}),
		versions: f.NewGauge(prometheus.GaugeOpts{
			Name: "recstore_versions",
			Help: "Version rows in the index",
		}),
	}
}

func (m *metrics) observeIndex(s index.Stats) {
	m.documents.Set(float64(s.Documents))
	m.versions.Set(float64(s.Versions))
}
