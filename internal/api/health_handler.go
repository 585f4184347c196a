package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-crm/internal/pkg/httputil"
)

// Component states.
const (
	checkUp       = "up"
	checkDown     = "down"
	checkDegraded = "degraded"
	checkDisabled = "disabled"
)

// Overall states.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

const (
	healthVersion      = "1.0.0"
	queueDegradedDepth = 10000
)

// HealthStatus is the /health body.
type HealthStatus struct {
	Status  string                    `json:"status"`
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is one dependency's verdict.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// QueueDepth reports the number of delivery jobs waiting to be claimed.
// *worker.DeliveryQueue implements it.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

// depCheck is one named dependency check. run returns a status message; slow
// marks a successful but sluggish answer as degraded.
type depCheck struct {
	timeout time.Duration
	slow    time.Duration
	run     func(ctx context.Context) (string, error)
}

// HealthChecker checks the server's dependencies. A nil dependency is
// reported as disabled and does not affect the verdict.
type HealthChecker struct {
	deps    map[string]*depCheck
	started time.Time
}

// NewHealthChecker creates a checker for whichever dependencies are set.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, queue QueueDepth) *HealthChecker {
	hc := &HealthChecker{deps: map[string]*depCheck{
		"database":       nil,
		"redis":          nil,
		"delivery_queue": nil,
	}, started: time.Now()}

	if db != nil {
		hc.deps["database"] = &depCheck{timeout: 3 * time.Second, slow: time.Second,
			run: func(ctx context.Context) (string, error) { return "connected", db.PingContext(ctx) }}
	}
	if redisClient != nil {
		hc.deps["redis"] = &depCheck{timeout: 2 * time.Second, slow: 500 * time.Millisecond,
			run: func(ctx context.Context) (string, error) { return "connected", redisClient.Ping(ctx).Err() }}
	}
	if queue != nil {
		hc.deps["delivery_queue"] = &depCheck{timeout: 2 * time.Second,
			run: func(ctx context.Context) (string, error) {
				depth, err := queue.Depth(ctx)
				if err != nil {
					return "", err
				}
				if depth > queueDegradedDepth {
					return "", fmt.Errorf("%w: %d jobs waiting", errBacklog, depth)
				}
				return fmt.Sprintf("%d jobs waiting", depth), nil
			}}
	}
	return hc
}

var errBacklog = errors.New("workers are behind")

// HandleHealth always answers 200; the body carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.JSON(w, http.StatusOK, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.started)),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.started)),
	})
}

// HandleReadiness answers 503 while the verdict is unhealthy.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	code := http.StatusOK
	if overall == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{
		"ready":  overall != statusUnhealthy,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(hc.deps))
	for name, p := range hc.deps {
		go func() { ch <- result{name, p.check(ctx)} }()
	}

	checks := make(map[string]ComponentCheck, len(hc.deps))
	for range hc.deps {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func (hc *HealthChecker) checkQueue(ctx context.Context) ComponentCheck {
	return hc.deps["delivery_queue"].check(ctx)
}

func (p *depCheck) check(ctx context.Context) ComponentCheck {
	if p == nil {
		return ComponentCheck{Status: checkDisabled}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	msg, err := p.run(ctx)
	latency := time.Since(start)

	out := ComponentCheck{Status: checkUp, Latency: latency.String(), Message: msg}
	switch {
	case err != nil && p.slow == 0:
		// Checks without a latency budget report errors as degraded.
		out.Status, out.Message = checkDegraded, err.Error()
	case err != nil:
		out.Status, out.Message = checkDown, fmt.Sprintf("ping failed: %v", err)
	case p.slow > 0 && latency > p.slow:
		out.Status, out.Message = checkDegraded, fmt.Sprintf("slow response (%s)", latency)
	}
	return out
}

// determineOverallStatus is unhealthy when the database is down, degraded
// when anything else is down or degraded, healthy otherwise.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if checks["database"].Status == checkDown {
		return statusUnhealthy
	}
	for _, c := range checks {
		if c.Status == checkDown || c.Status == checkDegraded {
			return statusDegraded
		}
	}
	return statusHealthy
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	if days := d / (24 * time.Hour); days > 0 {
		return fmt.Sprintf("%dd %s", days, d-days*24*time.Hour)
	}
	return d.String()
}
