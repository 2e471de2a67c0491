package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthChecker aggregates named backend checks.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// CheckFunc reports a backend as unhealthy with a non-nil error.
type CheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	// Healthy is false when any check fails; Ready only when a critical
	// one does.
	Healthy bool `json:"healthy"`
	Ready   bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Latency  string `json:"latency"`
}

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Health runs its checks concurrently, each under its own timeout.
type Health struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks []check
}

var _ HealthChecker = (*Health)(nil)

// NewHealth returns a checker with a five second per-check timeout.
func NewHealth(version string) *Health {
	return &Health{version: version, started: time.Now(), timeout: 5 * time.Second}
}

// SetTimeout changes the per-check timeout.
func (h *Health) SetTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// AddCheck registers fn under name, replacing an earlier check of that
// name. A failing critical check takes the instance out of rotation.
func (h *Health) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := check{name: name, critical: critical, fn: fn}
	for i := range h.checks {
		if h.checks[i].name == name {
			h.checks[i] = c
			return
		}
	}
	h.checks = append(h.checks, c)
}

// Check runs every registered check.
func (h *Health) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	timeout := h.timeout
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, c, timeout)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	}
	var failed []string
	for i, c := range checks {
		res := results[i]
		status.Checks[c.name] = res
		if res.Healthy {
			continue
		}
		failed = append(failed, c.name)
		status.Healthy = false
		if res.Critical {
			status.Ready = false
		}
	}

	switch {
	case len(checks) == 0:
		status.Message = "No health checks registered"
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		sort.Strings(failed)
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func run(ctx context.Context, c check, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Critical: c.critical,
		Latency:  time.Since(start).Round(time.Microsecond).String(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Pinger is implemented by the profile stores and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}
