package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/models"
	"github.com/jexlab/jex/pkg/services"
)

// readFrame reads one JSON frame off the socket.
func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func dialWS(t *testing.T, ctx context.Context, httpURL, query, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/api/v1/ws?" + query
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-User-ID": []string{userID}},
	})
	require.NoError(t, err)
	return conn
}

func TestWSHandler(t *testing.T) {
	owned := &models.Task{ID: "task-1", UserID: "user-1", Status: models.StatusProcessing}

	t.Run("streams events end to end", func(t *testing.T) {
		stub := &stubTaskService{task: owned}
		s, bus := newTestServer(t, stub)

		srv := httptest.NewServer(s.echo)
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn := dialWS(t, ctx, srv.URL, "task_id=task-1", "user-1")
		defer conn.Close(websocket.StatusNormalClosure, "")

		frame := readFrame(t, ctx, conn)
		assert.Equal(t, "subscribed", frame["type"])
		assert.Equal(t, "task-1", frame["task_id"])

		// The confirmation frame precedes the bus attach; wait for it
		// before emitting.
		require.True(t, bus.WaitForSubscriber(ctx, "task-1", 2*time.Second))

		bus.EmitProgress(ctx, "task-1", "planning", 20, "selecting mode")
		frame = readFrame(t, ctx, conn)
		assert.Equal(t, "progress", frame["type"])
		assert.Equal(t, float64(1), frame["seq"])
		assert.Equal(t, "planning", frame["phase"])

		bus.EmitAIMessage(ctx, "task-1", "A", "the timeline argues for an early move")
		frame = readFrame(t, ctx, conn)
		assert.Equal(t, "ai_message", frame["type"])
		assert.Equal(t, "A", frame["actor"])

		bus.EmitComplete(ctx, "task-1", &models.FinalDocument{
			ExecutiveSummary: models.ExecutiveSummary{TLDR: "switch jobs"},
		})
		frame = readFrame(t, ctx, conn)
		assert.Equal(t, "complete", frame["type"])
		require.NotNil(t, frame["output"])

		// The session stays interactive after the terminal event.
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))
		frame = readFrame(t, ctx, conn)
		assert.Equal(t, "pong", frame["type"])
	})

	t.Run("late subscriber still receives the completion", func(t *testing.T) {
		stub := &stubTaskService{task: owned}
		s, bus := newTestServer(t, stub)
		bus.EmitComplete(context.Background(), "task-1", &models.FinalDocument{
			ExecutiveSummary: models.ExecutiveSummary{TLDR: "already done"},
		})

		srv := httptest.NewServer(s.echo)
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn := dialWS(t, ctx, srv.URL, "task_id=task-1", "user-1")
		defer conn.Close(websocket.StatusNormalClosure, "")

		frame := readFrame(t, ctx, conn)
		require.Equal(t, "subscribed", frame["type"])

		frame = readFrame(t, ctx, conn)
		assert.Equal(t, "complete", frame["type"])
		output, ok := frame["output"].(map[string]any)
		require.True(t, ok)
		summary, ok := output["executive_summary"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "already done", summary["tldr"])
	})

	t.Run("missing task_id maps to 400", func(t *testing.T) {
		s, _ := newTestServer(t, &stubTaskService{task: owned})

		rec := doJSON(t, s, http.MethodGet, "/api/v1/ws", "user-1", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("foreign task is rejected before the upgrade", func(t *testing.T) {
		s, _ := newTestServer(t, &stubTaskService{getErr: services.ErrForbidden})

		rec := doJSON(t, s, http.MethodGet, "/api/v1/ws?task_id=task-1", "user-2", nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing identity maps to 401", func(t *testing.T) {
		s, _ := newTestServer(t, &stubTaskService{task: owned})

		rec := doJSON(t, s, http.MethodGet, "/api/v1/ws?task_id=task-1", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
