package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/jexlab/jex/pkg/models"
)

// progressHandler handles GET /api/v1/tasks/:id/progress.
// Returns the buffered progress items in ascending sequence order.
// Clients poll this as a fallback when the event stream is unavailable,
// so the response must never be cached.
func (s *Server) progressHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	taskID := c.Param("id")

	// Ownership gate. The bus has no notion of users.
	if _, err := s.tasks.GetTask(c.Request().Context(), taskID, userID); err != nil {
		return mapServiceError(err)
	}

	items, err := s.bus.FullProgress(c.Request().Context(), taskID)
	if err != nil {
		s.logger.Error("Progress read failed", "task_id", taskID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if items == nil {
		items = []models.ProgressItem{}
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, items)
}
