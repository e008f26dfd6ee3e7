package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/models"
)

// SeedUser inserts a user row with the given daily quota.
func (app *TestApp) SeedUser(t *testing.T, userID string, quota int) {
	t.Helper()
	_, err := app.DB.Pool.Exec(context.Background(), `
		INSERT INTO users (id, email, daily_quota)
		VALUES ($1, $2, $3)`,
		userID, userID+"@example.com", quota)
	require.NoError(t, err)
}

// CreateTask posts a task and returns the parsed creation result.
func (app *TestApp) CreateTask(t *testing.T, userID, scene, input string) map[string]any {
	t.Helper()
	body := map[string]any{"scene": scene, "user_input": input}
	return app.postJSON(t, userID, "/api/v1/tasks", body, http.StatusCreated)
}

// SubmitAnswers posts inquiry answers. The intermediate state is echoed
// back as received from CreateTask.
func (app *TestApp) SubmitAnswers(t *testing.T, userID, taskID string, answers map[string]string, state any) map[string]any {
	t.Helper()
	body := map[string]any{"answers": answers}
	if state != nil {
		body["intermediate_state"] = state
	}
	return app.postJSON(t, userID, "/api/v1/tasks/"+taskID+"/answers", body, http.StatusOK)
}

// StartProcessing kicks a ready task into the background run.
func (app *TestApp) StartProcessing(t *testing.T, userID, taskID string) map[string]any {
	t.Helper()
	return app.postJSON(t, userID, "/api/v1/tasks/"+taskID+"/start-processing", nil, http.StatusOK)
}

// GetTask retrieves a task by id.
func (app *TestApp) GetTask(t *testing.T, userID, taskID string) map[string]any {
	t.Helper()
	return app.getJSON(t, userID, "/api/v1/tasks/"+taskID, http.StatusOK)
}

// ListTasks calls GET /api/v1/tasks with optional query params.
func (app *TestApp) ListTasks(t *testing.T, userID, queryParams string) map[string]any {
	t.Helper()
	path := "/api/v1/tasks"
	if queryParams != "" {
		path += "?" + queryParams
	}
	return app.getJSON(t, userID, path, http.StatusOK)
}

// GetProgress returns the task's buffered progress items.
func (app *TestApp) GetProgress(t *testing.T, userID, taskID string) []models.ProgressItem {
	t.Helper()
	status, raw := app.do(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/progress", userID, nil)
	require.Equal(t, http.StatusOK, status, "GET progress: unexpected status: %s", raw)
	var items []models.ProgressItem
	require.NoError(t, json.Unmarshal(raw, &items))
	return items
}

// WaitForTaskStatus polls the database until the task reaches one of the
// expected statuses and returns the final row.
func (app *TestApp) WaitForTaskStatus(t *testing.T, taskID string, expected ...models.TaskStatus) *models.Task {
	t.Helper()
	var task *models.Task
	require.Eventually(t, func() bool {
		got, err := app.Tasks.Get(context.Background(), taskID)
		if err != nil {
			return false
		}
		task = got
		for _, status := range expected {
			if got.Status == status {
				return true
			}
		}
		return false
	}, 10*time.Second, 25*time.Millisecond,
		"task %s did not reach %v", taskID, expected)
	return task
}

func (app *TestApp) postJSON(t *testing.T, userID, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	status, raw := app.do(t, http.MethodPost, path, userID, body)
	require.Equal(t, expectedStatus, status, "POST %s: unexpected status: %s", path, raw)
	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, userID, path string, expectedStatus int) map[string]any {
	t.Helper()
	status, raw := app.do(t, http.MethodGet, path, userID, nil)
	require.Equal(t, expectedStatus, status, "GET %s: unexpected status: %s", path, raw)
	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

// do issues one request with the caller identity header and returns the
// raw status and body. Concurrency tests use it directly to count
// outcomes without failing on any particular status.
func (app *TestApp) do(t *testing.T, method, path, userID string, body any) (int, json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// wsURLFor builds the event stream URL for one task.
func (app *TestApp) wsURLFor(taskID string) string {
	return fmt.Sprintf("%s?task_id=%s", app.WSURL, taskID)
}
