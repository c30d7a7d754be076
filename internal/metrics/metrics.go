package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_tasks_completed_total",
			Help: "Total number of tasks finished, by terminal status",
		},
		[]string{"status"},
	)

	TaskHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_task_hops",
			Help:    "Number of routed stage executions per task run",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 24},
		},
	)

	TaskTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_task_tokens_used",
			Help:    "Number of tokens used per task",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	// Eye metrics
	EyeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_eye_runs_total",
			Help: "Total number of eye executions",
		},
		[]string{"eye", "code"},
	)

	EyeRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_eye_run_duration_ms",
			Help:    "Eye execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		},
		[]string{"eye"},
	)

	// Order guard metrics
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_guard_rejections_total",
			Help: "Total number of stage candidates rejected by the order guard",
		},
		[]string{"eye"},
	)

	// Router metrics
	RouterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_router_decisions_total",
			Help: "Total number of routing decisions",
		},
		[]string{"router", "eye"},
	)

	RouterFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_router_fallbacks_total",
			Help: "Total number of model-router failures that fell back to the heuristic",
		},
	)

	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_pipeline_runs_total",
			Help: "Total number of pipeline executions",
		},
		[]string{"pipeline", "status"},
	)

	PipelineSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_pipeline_steps_total",
			Help: "Total number of pipeline steps, by outcome",
		},
		[]string{"eye", "outcome"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_pipeline_duration_ms",
			Help:    "Pipeline execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
		},
		[]string{"pipeline"},
	)

	// Response cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"eye"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"eye"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_cache_evictions_total",
			Help: "Total number of expired response cache entries evicted",
		},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_cache_size",
			Help: "Current number of response cache entries",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_sessions_active",
			Help: "Number of active sessions",
		},
	)

	SessionTokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_session_tokens_total",
			Help: "Total tokens used across all sessions",
		},
	)

	// Session local-cache metrics
	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_session_cache_hits_total",
			Help: "Total number of session local-cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_session_cache_misses_total",
			Help: "Total number of session local-cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_session_cache_size",
			Help: "Current number of sessions in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_session_cache_evictions_total",
			Help: "Total number of sessions evicted from the local cache",
		},
	)

	// Provider metrics
	ProviderProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_provider_probes_total",
			Help: "Total number of provider health probes",
		},
		[]string{"provider", "status"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_provider_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"provider", "model", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_provider_call_duration_ms",
			Help:    "Model invocation duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)

	// Budget metrics
	BudgetDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_budget_denials_total",
			Help: "Total number of stage dispatches stopped by the session token budget",
		},
	)

	BudgetBackpressure = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_budget_backpressure_total",
			Help: "Total number of dispatches delayed by budget backpressure",
		},
	)

	// Event stream metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_published_total",
			Help: "Total number of orchestration events published",
		},
		[]string{"type"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_event_subscribers",
			Help: "Current number of event stream subscribers",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Database write queue metrics
	DBWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_db_write_queue_depth",
			Help: "Current depth of the async database write queue",
		},
	)

	DBWritesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_db_writes_dropped_total",
			Help: "Total number of async writes dropped because the queue was full",
		},
	)

	DBWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_db_write_failures_total",
			Help: "Total number of failed database writes",
		},
		[]string{"kind"},
	)
)

// RecordEyeRun records one eye execution with its verdict code.
func RecordEyeRun(eye, code string, durationMs float64) {
	EyeRuns.WithLabelValues(eye, code).Inc()
	EyeRunDuration.WithLabelValues(eye).Observe(durationMs)
}

// RecordTaskCompletion records a finished task run.
func RecordTaskCompletion(status string, hops, tokens int) {
	TasksCompleted.WithLabelValues(status).Inc()
	TaskHops.Observe(float64(hops))
	if tokens > 0 {
		TaskTokensUsed.Observe(float64(tokens))
	}
}

// RecordPipelineRun records a finished pipeline execution.
func RecordPipelineRun(pipeline, status string, durationMs float64) {
	PipelineRuns.WithLabelValues(pipeline, status).Inc()
	PipelineDuration.WithLabelValues(pipeline).Observe(durationMs)
}

// RecordProviderCall records one model invocation.
func RecordProviderCall(provider, model, status string, durationMs float64) {
	ProviderCalls.WithLabelValues(provider, model, status).Inc()
	ProviderCallDuration.WithLabelValues(provider).Observe(durationMs)
}

// RecordSessionTokens adds to the global session token counter.
func RecordSessionTokens(tokens int) {
	if tokens > 0 {
		SessionTokensTotal.Add(float64(tokens))
	}
}
