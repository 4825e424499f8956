package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fetchRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pdfwatch_fetch_requests_total",
		Help: "HTTP fetches by outcome (ok, not_found, error, blocked).",
	},
	[]string{"outcome"},
)
