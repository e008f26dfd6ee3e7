package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/jexlab/jex/pkg/database"
	"github.com/jexlab/jex/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz.
// Only the process's own dependencies are checked. Upstream model
// endpoints are excluded so a provider outage cannot make the
// orchestrator restart.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		if _, err := database.Health(reqCtx, s.db.Pool); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	// Redis only degrades: the event stream suffers but the REST
	// surface keeps working without it.
	if s.rdb != nil {
		if err := s.rdb.Ping(reqCtx).Err(); err != nil {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["redis"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		} else {
			checks["redis"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
