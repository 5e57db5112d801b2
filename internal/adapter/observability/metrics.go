package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Total number of model requests by outcome",
		},
		[]string{"outcome"},
	)
	ModelRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_request_duration_seconds",
			Help:    "Model request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	CodeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_executions_total",
			Help: "Total number of code-block executions by outcome",
		},
		[]string{"outcome"},
	)
	CodeExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "code_execution_duration_seconds",
			Help:    "Code-block execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
	)
	JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"state"},
	)
	JobRoundsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_model_rounds",
			Help:    "Distribution of generate/execute rounds per job",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)

// InitMetrics registers all collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ModelRequestsTotal)
	prometheus.MustRegister(ModelRequestDuration)
	prometheus.MustRegister(CodeExecutionsTotal)
	prometheus.MustRegister(CodeExecutionDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobRoundsHistogram)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob records a submitted job.
func EnqueueJob() { JobsEnqueuedTotal.Inc() }

// StartProcessingJob marks a job as in flight.
func StartProcessingJob() { JobsProcessing.Inc() }

// FinishJob marks a job terminal with its final state label.
func FinishJob(state string) {
	JobsProcessing.Dec()
	JobsCompletedTotal.WithLabelValues(state).Inc()
}

// ObserveRounds records how many generate/execute rounds a job used.
func ObserveRounds(n int) { JobRoundsHistogram.Observe(float64(n)) }
