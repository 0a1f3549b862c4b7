package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wot_queries_total",
		Help: "Total number of attestation queries issued",
	})
	relayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wot_relay_events_total",
		Help: "Events received per relay",
	}, []string{"relay"})
	relayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wot_relay_failures_total",
		Help: "Failed relay operations per relay",
	}, []string{"relay"})
	publishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wot_publish_total",
		Help: "Total number of publish fan-outs",
	})
	scoreCompute = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wot_score_compute_seconds",
		Help:    "Wall time spent computing a score, including relay I/O",
		Buckets: prometheus.DefBuckets,
	})
)
