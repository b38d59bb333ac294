package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    HealthStatus `json:"status"`
	LatencyMS float64      `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
}

// HealthReport is the body of /health and /ready.
type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthChecker checks the gateway's dependencies, currently the object
// store bucket. Checks run concurrently; each is bounded by its own timeout.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	timeout time.Duration
	logger  *zap.Logger
}

type HealthOption func(*HealthChecker)

// WithCheckTimeout bounds each check.
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.timeout = d
	}
}

func NewHealthChecker(logger *zap.Logger, opts ...HealthOption) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: 5 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterCheck adds or replaces a named check.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every check and reports unhealthy if any of them failed or
// outlived the timeout.
func (h *HealthChecker) Check(ctx context.Context) *HealthReport {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	report := &HealthReport{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now().UTC(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()

			result := h.runCheck(ctx, check)
			if result.Status != HealthStatusHealthy {
				h.logger.Warn("health check failed",
					zap.String("check", name),
					zap.Float64("latency_ms", result.LatencyMS),
					zap.String("error", result.Error))
			}

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result.Status != HealthStatusHealthy {
				report.Status = HealthStatusUnhealthy
			}
		}(name, check)
	}
	wg.Wait()

	return report
}

// runCheck runs check in its own goroutine so a check that ignores ctx still
// cannot hold the report past the timeout.
func (h *HealthChecker) runCheck(ctx context.Context, check HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- check(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timeout after %v", h.timeout)
	}

	result := CheckResult{
		Status:    HealthStatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
