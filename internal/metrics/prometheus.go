package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendscout_task_duration_seconds",
			Help:    "Pipeline task duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"task"},
	)

	TaskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_task_runs_total",
			Help: "Pipeline task executions by final status",
		},
		[]string{"task", "status"},
	)

	QuotaUnitsUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_quota_units_used_total",
			Help: "YouTube API quota units charged",
		},
		[]string{"operation"},
	)

	QuotaRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendscout_quota_units_remaining",
			Help: "YouTube API quota units left for the current UTC day",
		},
	)

	QuotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_quota_denials_total",
			Help: "Quota reservations refused",
		},
		[]string{"reason"},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_upstream_requests_total",
			Help: "Calls to the video metadata source",
		},
		[]string{"operation", "status"},
	)

	CandidatesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_candidates_skipped_total",
			Help: "Raw records dropped by the normalizer",
		},
		[]string{"reason"},
	)

	CandidatesSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_candidates_selected_total",
			Help: "Candidates accepted into the shortlist",
		},
		[]string{"format"},
	)

	CandidatesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_candidates_rejected_total",
			Help: "Scored candidates rejected by reason",
		},
		[]string{"reason"},
	)

	SimilarityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trendscout_similarity_to_niche",
			Help:    "Cosine similarity of candidates to the channel profile",
			Buckets: []float64{0.1, 0.2, 0.3, 0.35, 0.4, 0.5, 0.55, 0.6, 0.65, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EmbeddingTexts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trendscout_embedding_texts_total",
			Help: "Texts sent to the embedding provider",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendscout_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ProfileVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendscout_profile_version",
			Help: "Version of the active channel profile",
		},
	)
)

func Init() {
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(TaskRuns)
	prometheus.MustRegister(QuotaUnitsUsed)
	prometheus.MustRegister(QuotaRemaining)
	prometheus.MustRegister(QuotaDenials)
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(CandidatesSkipped)
	prometheus.MustRegister(CandidatesSelected)
	prometheus.MustRegister(CandidatesRejected)
	prometheus.MustRegister(SimilarityScore)
	prometheus.MustRegister(EmbeddingTexts)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ProfileVersion)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
