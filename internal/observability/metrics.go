package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	remoteDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
	uploadSizeBuckets     = []float64{10240, 102400, 524288, 1048576, 5242880, 10485760}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Session metrics
	SessionsStartedTotal *prometheus.CounterVec
	SessionsActive       prometheus.Gauge

	// Submission metrics
	SubmissionsTotal *prometheus.CounterVec
	UploadSizeBytes  *prometheus.HistogramVec
	WizardsCompleted *prometheus.CounterVec

	// Remote API metrics
	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Sessions
		SessionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_sessions_started_total",
			Help: "Total number of onboarding sessions started.",
		}, []string{"tenant"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onboard_sessions_active",
			Help: "Number of active onboarding sessions (best effort).",
		}),

		// Submissions
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_submissions_total",
			Help: "Total number of step submissions.",
		}, []string{"wizard_id", "step_id", "outcome"}),
		UploadSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_upload_size_bytes",
			Help:    "Size of uploaded files in bytes.",
			Buckets: uploadSizeBuckets,
		}, []string{"wizard_id"}),
		WizardsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_wizards_completed_total",
			Help: "Total number of wizards completed.",
		}, []string{"wizard_id"}),

		// Remote API
		RemoteRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_remote_requests_total",
			Help: "Total number of remote API requests. Status 0 means no response.",
		}, []string{"operation", "status"}),
		RemoteRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_remote_request_duration_seconds",
			Help:    "Remote API request duration in seconds.",
			Buckets: remoteDurationBuckets,
		}, []string{"operation"}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_definition_reload_total",
			Help: "Total wizard definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onboard_definitions_loaded",
			Help: "Number of loaded wizard variants.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Sessions
		m.SessionsStartedTotal,
		m.SessionsActive,
		// Submissions
		m.SubmissionsTotal,
		m.UploadSizeBytes,
		m.WizardsCompleted,
		// Remote API
		m.RemoteRequestsTotal,
		m.RemoteRequestDuration,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSessionStart records a session start.
func (m *Metrics) RecordSessionStart(tenant string) {
	m.SessionsStartedTotal.WithLabelValues(tenant).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session logout or expiry.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
}

// ObserveSubmission records a step submission outcome.
func (m *Metrics) ObserveSubmission(wizardID string, stepID int, outcome string) {
	m.SubmissionsTotal.WithLabelValues(wizardID, strconv.Itoa(stepID), outcome).Inc()
}

// ObserveUploadBytes records the size of an uploaded file.
func (m *Metrics) ObserveUploadBytes(wizardID string, bytes int64) {
	m.UploadSizeBytes.WithLabelValues(wizardID).Observe(float64(bytes))
}

// RecordWizardCompletion records a completed wizard.
func (m *Metrics) RecordWizardCompletion(wizardID string) {
	m.WizardsCompleted.WithLabelValues(wizardID).Inc()
}

// ObserveRemoteCall records a remote API call outcome.
func (m *Metrics) ObserveRemoteCall(operation string, status int, d time.Duration) {
	m.RemoteRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.RemoteRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded wizard variants.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
