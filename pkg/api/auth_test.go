package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUserID(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{
			name:     "no headers returns empty",
			headers:  map[string]string{},
			expected: "",
		},
		{
			name: "X-User-ID takes priority",
			headers: map[string]string{
				"X-User-ID":     "user-1",
				"Authorization": "Bearer user-2",
			},
			expected: "user-1",
		},
		{
			name: "bearer subject used when no X-User-ID",
			headers: map[string]string{
				"Authorization": "Bearer user-2",
			},
			expected: "user-2",
		},
		{
			name: "non-bearer authorization is ignored",
			headers: map[string]string{
				"Authorization": "Basic dXNlcjpwYXNz",
			},
			expected: "",
		},
		{
			name: "bearer subject is trimmed",
			headers: map[string]string{
				"Authorization": "Bearer  user-3 ",
			},
			expected: "user-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			assert.Equal(t, tt.expected, extractUserID(c))
		})
	}
}

func TestRequireUser(t *testing.T) {
	t.Run("missing identity fails with 401", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		_, err := requireUser(c)
		require.Error(t, err)
		httpErr, ok := err.(*echo.HTTPError)
		require.True(t, ok, "expected echo.HTTPError")
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})

	t.Run("header identity passes through", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		userID, err := requireUser(c)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})
}
