package pdfwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfwatch_runs_total",
			Help: "Completed scrape runs by kind and status.",
		},
		[]string{"kind", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdfwatch_run_duration_seconds",
			Help:    "Scrape run duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 600},
		},
		[]string{"kind"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfwatch_document_cache_lookups_total",
			Help: "Document cache lookups by result.",
		},
		[]string{"result"},
	)
)
