package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// extractUserID extracts the caller identity established by the
// authenticating proxy in front of the service.
// Priority: X-User-ID > Authorization bearer subject. Empty when
// neither header is present.
func extractUserID(c *echo.Context) string {
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id
	}
	if auth := c.Request().Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// requireUser resolves the caller identity or fails the request with 401.
func requireUser(c *echo.Context) (string, error) {
	userID := extractUserID(c)
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "user identity required")
	}
	return userID, nil
}
