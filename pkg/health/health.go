// Package health provides health check endpoints for the d2g service.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Pinger is satisfied by *sqlx.DB and database.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker reports liveness, readiness and dependency health.
// A nil redis client means locking is disabled and is reported as degraded.
type Checker struct {
	db        Pinger
	redis     *redis.Client
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(db Pinger, redisClient *redis.Client, version string) *Checker {
	return &Checker{
		db:        db,
		redis:     redisClient,
		startTime: time.Now(),
		version:   version,
	}
}

// SetReady marks the service as ready to receive traffic
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler answers whether the process is up
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler answers whether the service can take traffic
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}

	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.runChecks(ctx.Request().Context())
	overallStatus := calculateOverallStatus(checks)

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return ctx.JSON(statusCode, Response{
		Status:     overallStatus,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	})
}

func (c *Checker) runChecks(ctx context.Context) map[string]CheckResult {
	return map[string]CheckResult{
		"database": c.checkDatabase(ctx),
		"redis":    c.checkRedis(ctx),
	}
}

func (c *Checker) checkDatabase(ctx context.Context) CheckResult {
	if c.db == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "database not configured"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}

func (c *Checker) checkRedis(ctx context.Context) CheckResult {
	if c.redis == nil {
		return CheckResult{Status: StatusDegraded, Message: "redis not configured"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}

func calculateOverallStatus(checks map[string]CheckResult) Status {
	hasDegraded := false
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// RegisterRoutes registers health check routes under /api/v1/health
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
