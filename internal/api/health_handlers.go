package api

import (
	"net/http"
	"runtime"
	"time"
)

// handleHealth always answers 200 while the process is serving; the body
// carries the dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	report.Version = Version
	report.Uptime = time.Since(s.startTime).Round(time.Second).String()
	s.writeJSON(w, http.StatusOK, report)
}

// handleReady answers 503 until every check passes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	report.Version = Version
	report.Uptime = time.Since(s.startTime).Round(time.Second).String()

	status := http.StatusOK
	if report.Status != HealthStatusHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"go_version": runtime.Version(),
	})
}
