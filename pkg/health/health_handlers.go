package health

import (
	"encoding/json"
	"net/http"
)

// Register mounts /health, /health/ready and /health/live on mux.
// /health tolerates degraded checks; the probes do not.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.Handle("/health", c.Handler(ScopeStatus, StatusDegraded))
	mux.Handle("/health/ready", c.Handler(ScopeReady, StatusHealthy))
	mux.Handle("/health/live", c.Handler(ScopeLive, StatusHealthy))
}

// Handler serves the report for scope, answering 503 when the overall
// status is worse than tolerate
func (c *Checker) Handler(scope Scope, tolerate Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(scope)
		code := http.StatusOK
		if report.Status.worse(tolerate) {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
}
