package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scoreRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wot_score_requests_total",
	Help: "Score lookups served over the HTTP API, badge requests included.",
})
