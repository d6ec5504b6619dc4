package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patai_ingestion_phase_duration_seconds",
			Help:    "Ingestion phase duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"phase"},
	)

	IngestionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patai_ingestion_jobs_total",
			Help: "Total ingestion jobs by terminal status",
		},
		[]string{"status"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patai_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patai_query_total",
			Help: "Total queries processed",
		},
		[]string{"status"},
	)

	RetrievalCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patai_retrieval_candidates",
			Help:    "Candidate counts per retrieval stage",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
		[]string{"stage"},
	)

	RerankDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patai_rerank_degraded_total",
			Help: "Queries answered in degraded mode after re-ranker failure",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patai_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patai_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patai_documents_ingested_total",
			Help: "Documents that completed ingestion",
		},
	)

	ChunksUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patai_chunks_upserted_total",
			Help: "Chunks written to the vector index",
		},
	)
)

func Init() {
	prometheus.MustRegister(IngestionPhaseDuration)
	prometheus.MustRegister(IngestionJobsTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(RetrievalCandidates)
	prometheus.MustRegister(RerankDegraded)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ChunksUpserted)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
