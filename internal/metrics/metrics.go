package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Ask pipeline
	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_questions_total",
			Help: "Questions answered, by outcome",
		},
		[]string{"outcome"}, // answered, no_results, low_confidence, no_llm, error, cached
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_retrieval_duration_seconds",
			Help:    "Time spent retrieving chunks for a question",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_generation_duration_seconds",
			Help:    "Time spent generating an answer",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Ingestion
	ChunksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragchat_chunks_ingested_total",
			Help: "Total chunks written to the store",
		},
	)

	// Answer cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragchat_cache_hits_total",
			Help: "Answer cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragchat_cache_misses_total",
			Help: "Answer cache misses",
		},
	)
)
