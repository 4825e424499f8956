package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ingestDocuments = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pdfwatch_ingest_documents_total",
		Help: "Candidates processed by the ingest pipeline, by outcome.",
	},
	[]string{"outcome"},
)
