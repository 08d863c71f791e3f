package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newsline/shorts-pipeline/internal/config"
)

var (
	JobsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_ingested_total",
		Help: "Total number of jobs admitted by the ingestion gate.",
	}, []string{"channel"})

	JobsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_rejected_total",
		Help: "Total number of candidate items rejected by the ingestion gate, by reason.",
	}, []string{"channel", "reason"})

	ClaimAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_claim_attempts_total",
		Help: "Total claim() calls, by outcome.",
	}, []string{"stage", "outcome"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Time spent by a stage worker processing a claimed job.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_failures_total",
		Help: "Total stage failures, by failure step.",
	}, []string{"failure_step"})

	UploadsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_uploads_succeeded_total",
		Help: "Total successful uploads.",
	})

	UploadsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_uploads_retried_total",
		Help: "Total upload retries published by the retry controller.",
	})

	Regenerations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_regenerations_total",
		Help: "Total pipeline regenerations triggered after exhausting upload retries.",
	})

	DeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_dead_lettered_total",
		Help: "Total jobs moved to the dead-letter sink, by reason.",
	}, []string{"reason"})

	QuotaExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_quota_exhausted_total",
		Help: "Total scheduler ticks that stopped because the daily quota was exhausted.",
	}, []string{"channel"})

	ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_reaper_recovered_total",
		Help: "Total jobs swept back to FAILED by the staleness reaper.",
	})

	KeyPoolCooldowns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_key_pool_outcomes_total",
		Help: "Total key pool outcome reports, by key and outcome.",
	}, []string{"key", "outcome"})

	CleanupSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_cleanup_swept_total",
		Help: "Total terminal jobs destroyed by the retention-window cleanup task.",
	})
)

func init() {
	prometheus.MustRegister(
		JobsIngested, JobsRejected, ClaimAttempts, StageDuration, StageFailures,
		UploadsSucceeded, UploadsRetried, Regenerations, DeadLettered,
		QuotaExhausted, ReaperRecovered, KeyPoolCooldowns, CleanupSwept,
	)
}

// StartMetricsServer exposes /metrics, /healthz and /readyz.
func StartMetricsServer(cfg *config.Config, readiness func() error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readiness == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		if err := readiness(); err != nil {
			http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
