package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verify_contributions_total",
		Help: "Count of durable verification verdicts by result.",
	}, []string{"result"})
	verificationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verify_duration_seconds",
		Help:    "Wall time of primitive verification runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	activeVerifications = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_active_workers",
		Help: "Verifications currently holding a worker slot.",
	})
)
