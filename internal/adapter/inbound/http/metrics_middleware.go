package http

import (
	"net/http"
	"strconv"
	"time"
)

// apiEndpoints are the paths reported as the endpoint label. Anything else
// is "other" so unknown paths cannot grow the label set.
var apiEndpoints = map[string]struct{}{
	"/api/auth/signin":  {},
	"/api/auth/session": {},
	"/api/auth/refresh": {},
	"/api/auth/switch":  {},
	"/api/auth/logout":  {},
	"/api/route/decide": {},
}

// MetricsMiddleware records request_duration_seconds (by endpoint) and
// requests_total (by method, endpoint and status class). /metrics and
// /health are skipped.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			endpoint := endpointLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, statusClass(rec.status)).Inc()
		})
	}
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func endpointLabel(path string) string {
	if _, ok := apiEndpoints[path]; ok {
		return path
	}
	return "other"
}

// statusClass maps 404 to "4xx", 502 to "5xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
