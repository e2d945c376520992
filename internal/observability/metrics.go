package observability

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool
	// Namespace prefix for all metrics (default: docuchat).
	Namespace string
	// Version is the application version for the info metric.
	Version string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "docuchat",
		Version:   "dev",
	}
}

// MetricsConfigFromEnv creates a MetricsConfig from environment variables.
// DOCUCHAT_METRICS_ENABLED: true/false (default: true)
// APP_VERSION: version string (default: dev)
func MetricsConfigFromEnv() MetricsConfig {
	cfg := DefaultMetricsConfig()
	if v := os.Getenv("DOCUCHAT_METRICS_ENABLED"); v != "" {
		cfg.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		cfg.Version = v
	}
	return cfg
}

// Metrics provides application metrics collection.
// Thread-safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	namespace string
	version   string

	// HTTP request counters: key = "method:path:status"
	httpRequestCounts map[string]*atomic.Int64

	// Auth flow counters
	loginSuccess       atomic.Int64
	loginFailure       atomic.Int64
	tokenVerifyExpired atomic.Int64
	tokenVerifyInvalid atomic.Int64
	authzDenied        atomic.Int64

	// Rate limiter counters
	rateLimitAllowed  atomic.Int64
	rateLimitRejected atomic.Int64

	// Active connections gauge
	activeConnections atomic.Int64
}

// NewMetrics creates a new Metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		namespace:         cfg.Namespace,
		version:           cfg.Version,
		httpRequestCounts: make(map[string]*atomic.Int64),
	}
}

// RecordHTTPRequest records an HTTP request with its method, path, and
// status code. Paths with embedded IDs are normalized to keep cardinality
// bounded.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int) {
	key := fmt.Sprintf("%s:%s:%d", method, normalizePath(path), statusCode)
	m.mu.Lock()
	counter, ok := m.httpRequestCounts[key]
	if !ok {
		counter = &atomic.Int64{}
		m.httpRequestCounts[key] = counter
	}
	m.mu.Unlock()
	counter.Add(1)
}

// RecordLogin records the outcome of an authorization-code login attempt.
func (m *Metrics) RecordLogin(success bool) {
	if success {
		m.loginSuccess.Add(1)
	} else {
		m.loginFailure.Add(1)
	}
}

// RecordSessionRejected records a rejected session token, split by whether
// the token was merely expired or outright invalid.
func (m *Metrics) RecordSessionRejected(expired bool) {
	if expired {
		m.tokenVerifyExpired.Add(1)
	} else {
		m.tokenVerifyInvalid.Add(1)
	}
}

// RecordAuthzDenied records a role or permission check that denied access.
func (m *Metrics) RecordAuthzDenied() {
	m.authzDenied.Add(1)
}

// RecordRateLimitAllowed increments the count of allowed requests.
func (m *Metrics) RecordRateLimitAllowed() {
	m.rateLimitAllowed.Add(1)
}

// RecordRateLimitRejected increments the count of rejected requests.
func (m *Metrics) RecordRateLimitRejected() {
	m.rateLimitRejected.Add(1)
}

// IncrementActiveConnections increments the active connection gauge.
func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Add(1)
}

// DecrementActiveConnections decrements the active connection gauge.
func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Add(-1)
}

// normalizePath replaces UUID-shaped path segments with {id}.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// Handler returns an http.Handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.writePrometheusMetrics(w)
	})
}

func (m *Metrics) writePrometheusMetrics(w http.ResponseWriter) {
	_, _ = fmt.Fprintf(w, "# HELP %s_info Application information\n", m.namespace)
	_, _ = fmt.Fprintf(w, "# TYPE %s_info gauge\n", m.namespace)
	_, _ = fmt.Fprintf(w, "%s_info{version=%q} 1\n\n", m.namespace, m.version)

	fmt.Fprintf(w, "# HELP %s_http_requests_total Total number of HTTP requests\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_http_requests_total counter\n", m.namespace)
	m.mu.RLock()
	keys := make([]string, 0, len(m.httpRequestCounts))
	for k := range m.httpRequestCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		counter := m.httpRequestCounts[key]
		parts := strings.SplitN(key, ":", 3)
		if len(parts) == 3 {
			fmt.Fprintf(w, "%s_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				m.namespace, parts[0], parts[1], parts[2], counter.Load())
		}
	}
	m.mu.RUnlock()
	_, _ = fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP %s_logins_total Total login attempts by outcome\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_logins_total counter\n", m.namespace)
	fmt.Fprintf(w, "%s_logins_total{outcome=\"success\"} %d\n", m.namespace, m.loginSuccess.Load())
	fmt.Fprintf(w, "%s_logins_total{outcome=\"failure\"} %d\n\n", m.namespace, m.loginFailure.Load())

	fmt.Fprintf(w, "# HELP %s_sessions_rejected_total Session tokens rejected by reason\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_sessions_rejected_total counter\n", m.namespace)
	fmt.Fprintf(w, "%s_sessions_rejected_total{reason=\"expired\"} %d\n", m.namespace, m.tokenVerifyExpired.Load())
	fmt.Fprintf(w, "%s_sessions_rejected_total{reason=\"invalid\"} %d\n\n", m.namespace, m.tokenVerifyInvalid.Load())

	fmt.Fprintf(w, "# HELP %s_authz_denied_total Role and permission checks that denied access\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_authz_denied_total counter\n", m.namespace)
	fmt.Fprintf(w, "%s_authz_denied_total %d\n\n", m.namespace, m.authzDenied.Load())

	fmt.Fprintf(w, "# HELP %s_rate_limit_requests_total Total rate limit decisions\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_rate_limit_requests_total counter\n", m.namespace)
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"allowed\"} %d\n", m.namespace, m.rateLimitAllowed.Load())
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"rejected\"} %d\n\n", m.namespace, m.rateLimitRejected.Load())

	fmt.Fprintf(w, "# HELP %s_active_connections Current number of active HTTP connections\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_active_connections gauge\n", m.namespace)
	fmt.Fprintf(w, "%s_active_connections %d\n", m.namespace, m.activeConnections.Load())
}

// MetricsMiddleware returns an HTTP middleware that records request metrics.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics endpoint itself to avoid recursion
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			m.IncrementActiveConnections()
			defer m.DecrementActiveConnections()

			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode)
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap returns the underlying ResponseWriter for compatibility with
// http.ResponseController and other wrapping utilities.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
