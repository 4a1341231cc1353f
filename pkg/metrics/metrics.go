package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_transitions_total",
		Help: "The total number of pipeline stage transitions",
	}, []string{"stage"})

	PipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_failures_total",
		Help: "Total number of pipeline failures by stage and error class",
	}, []string{"stage", "class"})

	IntentsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_intents_executed_total",
		Help: "The total number of executed intents by kind and outcome",
	}, []string{"kind", "status"})

	PreviewDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_preview_seconds",
		Help:    "Time taken to run the preflight and preview stages",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind"})

	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_build_seconds",
		Help:    "Time taken to build a transaction",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind"})

	LimiterRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_limiter_rejections_total",
		Help: "Total number of safety limiter rejections by reason",
	}, []string{"reason"})

	PreviewWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_preview_warnings_total",
		Help: "Total number of advisory warnings attached to previews",
	}, []string{"kind"})

	QuoteRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_quote_refreshes_total",
		Help: "Number of stale quotes re-fetched before building",
	})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_provider_errors_total",
		Help: "Total number of provider call failures by provider kind",
	}, []string{"provider"})

	CancelledIntents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_cancelled_intents_total",
		Help: "Number of intents cancelled before building",
	})

	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_persistence_failures_total",
		Help: "Total number of status-write failures; these leave an intent in an ambiguous state",
	}, []string{"op"})

	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_telemetry_dropped_total",
		Help: "Number of telemetry events dropped because the sink buffer was full",
	})

	DailySpend = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_daily_spend_usd",
		Help: "Running daily USD spend recorded per user",
	}, []string{"user_id"})
)
