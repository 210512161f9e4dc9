package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/tracing"
)

// Checker serves liveness and readiness probes.
type Checker struct {
	db        *sqlx.DB
	logger    *zap.Logger
	version   string
	startTime time.Time
	ready     atomic.Bool
}

func NewChecker(db *sqlx.DB, version string, logger *zap.Logger) *Checker {
	return &Checker{
		db:        db,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) Register(g *echo.Group) {
	g.GET("", c.Health)
	g.GET("/live", c.Live)
	g.GET("/ready", c.Ready)
}

type CheckResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func (c *Checker) Health(ectx echo.Context) error {
	ctx, span := tracing.StartSpan(ectx.Request().Context(), "health.Checker.Health")
	defer span.End()

	status := HealthStatus{
		Status:    "healthy",
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    map[string]CheckResult{},
	}

	if c.db != nil {
		start := time.Now()
		if err := c.db.PingContext(ctx); err != nil {
			c.logger.Warn("database health check failed", zap.Error(err))
			status.Status = "unhealthy"
			status.Checks["database"] = CheckResult{Status: "unhealthy", Error: err.Error()}
		} else {
			status.Checks["database"] = CheckResult{
				Status:  "healthy",
				Latency: time.Since(start).Round(time.Microsecond).String(),
			}
		}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return ectx.JSON(code, status)
}

func (c *Checker) Live(ectx echo.Context) error {
	return ectx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

func (c *Checker) Ready(ectx echo.Context) error {
	if !c.ready.Load() {
		return ectx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return ectx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
