package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/readmeabook/readmeabook/internal/health"
)

var (
	// Worker metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "readmeabook",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "readmeabook",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of job processing, by job type and outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"type", "outcome"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "readmeabook",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being processed by the worker.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by job type and outcome.",
	}, []string{"type", "outcome"})

	// Reaper metrics

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "reaper_rescued_total",
		Help:      "Total stale jobs handled by the reaper.",
	}, []string{"action"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "readmeabook",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "readmeabook",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// Search metrics

	SearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "searches_total",
		Help:      "Total indexer searches, by outcome.",
	}, []string{"outcome"})

	SearchCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "readmeabook",
		Name:      "search_candidates",
		Help:      "Deduplicated candidates found per search.",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})

	IndexerQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "readmeabook",
		Name:      "indexer_query_duration_seconds",
		Help:      "Duration of a single indexer query, by indexer and outcome.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"indexer", "outcome"})

	// Scrape pacing metrics

	ScrapePagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "scrape_pages_total",
		Help:      "Scraped pages, by result (clean or retried).",
	}, []string{"result"})

	ScrapeBreakerTripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "scrape_breaker_trips_total",
		Help:      "Times the scrape circuit breaker entered cooldown.",
	})

	// Download metrics

	DownloadSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "download_submissions_total",
		Help:      "Release submissions to the download client, by outcome.",
	}, []string{"outcome"})

	// Maintenance metrics

	MaintenanceRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "maintenance_runs_total",
		Help:      "Maintenance task executions, by task and outcome.",
	}, []string{"task", "outcome"})

	// Notification metrics

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "notifications_total",
		Help:      "Notification sends, by event and outcome.",
	}, []string{"event", "outcome"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "readmeabook",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "readmeabook",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "readmeabook",
		Name:      "http_requests_in_flight",
		Help:      "Requests currently being served.",
	})
)

func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		ReaperRescuedTotal,
		ReaperCycleDuration,
		WorkerStartTime,
		WorkerShutdownsTotal,
		SearchesTotal,
		SearchCandidates,
		IndexerQueryDuration,
		ScrapePagesTotal,
		ScrapeBreakerTripsTotal,
		DownloadSubmissionsTotal,
		MaintenanceRunsTotal,
		NotificationsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
	)
}

// NewServer serves the Prometheus endpoint plus the kubelet-style probes on
// the internal port, away from the public API.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.Result) {
	w.Header().Set("Content-Type", "application/json")
	if !result.Up() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
