package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var watcherCandidates = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wot_watcher_candidates_total",
	Help: "Candidates queued from watched service results.",
})
