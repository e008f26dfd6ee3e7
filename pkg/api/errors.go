package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/jexlab/jex/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if errors.Is(err, services.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "task belongs to a different user")
	}
	if errors.Is(err, services.ErrQuotaExceeded) {
		return echo.NewHTTPError(http.StatusForbidden, "daily task quota exceeded")
	}
	if errors.Is(err, services.ErrInvalidState) {
		return echo.NewHTTPError(http.StatusBadRequest, "operation not allowed in current task state")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
