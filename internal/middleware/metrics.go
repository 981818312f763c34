// Package middleware provides HTTP middleware for metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/gpcheck/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// normalizeEndpoint collapses ids in the path so label cardinality stays
// bounded.
func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/chains/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/chains/"), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			return "/api/chains/:id"
		case len(parts) == 2 && parts[1] == "runs":
			return "/api/chains/:id/runs"
		case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "history":
			return "/api/chains/:id/tasks/:task/history"
		}

		return path
	case strings.HasPrefix(path, "/api/runs/") && !strings.Contains(path[len("/api/runs/"):], "/"):
		return "/api/runs/:id"
	default:
		return path
	}
}
