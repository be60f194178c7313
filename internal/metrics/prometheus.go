package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plantsage_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"grounding_mode"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"grounding_mode", "status"},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plantsage_retrieval_results_count",
			Help:    "Number of evidence chunks returned per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 15, 20, 50},
		},
		[]string{"path"},
	)

	TagQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_tag_queries_total",
			Help: "Tag-filtered index queries issued by the retriever",
		},
		[]string{"tag"},
	)

	MalformedModelOutput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_malformed_model_output_total",
			Help: "Model responses replaced by the fallback answer",
		},
		[]string{"grounding_mode"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"provider", "type"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_feedback_total",
			Help: "Feedback submissions by judgment",
		},
		[]string{"feedback"},
	)

	ChunkDemotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_chunk_demotions_total",
			Help: "Chunk status demotions attempted by the feedback loop",
		},
		[]string{"result"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plantsage_documents_processed_total",
			Help: "Total documents processed",
		},
	)

	ChunksIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantsage_chunks_indexed_total",
			Help: "Evidence chunks written to the vector index",
		},
		[]string{"content_type"},
	)
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			RetrievalResults,
			TagQueries,
			MalformedModelOutput,
			LLMTokensUsed,
			FeedbackTotal,
			ChunkDemotions,
			CacheHits,
			CacheMisses,
			DocumentsProcessed,
			ChunksIndexed,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
