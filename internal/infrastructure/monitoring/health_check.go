package monitoring

import (
	"context"
	"sync"
	"time"
)

// Status of one dependency or of the service overall.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Report is the aggregate health response.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

type check struct {
	fn       CheckFunc
	critical bool
}

// HealthChecker runs registered dependency probes. A failing critical
// check makes the service unhealthy; a failing optional check only
// degrades it.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]check
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]check)}
}

// AddCheck registers a critical probe.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: true}
}

// AddOptionalCheck registers a probe whose failure degrades rather than
// fails the service.
func (h *HealthChecker) AddOptionalCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: false}
}

// CheckAll runs every probe with a per-check timeout.
func (h *HealthChecker) CheckAll(ctx context.Context) Report {
	h.mu.RLock()
	checks := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	report := Report{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(checks))}
	for name, c := range checks {
		result := h.run(ctx, c.fn)
		report.Checks[name] = result

		if result.Status != StatusHealthy {
			if c.critical {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (h *HealthChecker) run(ctx context.Context, fn CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := fn(checkCtx)
	result := CheckResult{Status: StatusHealthy, Latency: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
