package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/jexlab/jex/pkg/events"
)

// wsWriteTimeout bounds a single frame write. A client that cannot
// drain frames within it is dropped by the bus.
const wsWriteTimeout = 10 * time.Second

// wsHandler handles GET /api/v1/ws?task_id=. It upgrades the
// connection, subscribes it to the task's event stream and blocks
// until the client disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	taskID := c.QueryParam("task_id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}

	// Ownership gate before the upgrade so failures still reach the
	// client as plain HTTP errors.
	if _, err := s.tasks.GetTask(c.Request().Context(), taskID, userID); err != nil {
		return mapServiceError(err)
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Flags.CORSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Flags.CORSOrigins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	s.serveSocket(c.Request().Context(), conn, taskID)
	return nil
}

// serveSocket runs one WebSocket session: confirm, subscribe, then read
// until the connection closes.
func (s *Server) serveSocket(parentCtx context.Context, conn *websocket.Conn, taskID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sub := &wsSubscriber{
		id:   uuid.New().String(),
		conn: conn,
		ctx:  ctx,
	}
	defer func() {
		s.bus.Unsubscribe(context.Background(), sub.id)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Confirm before subscribing so the confirmation frame precedes a
	// replayed completion.
	if err := sub.sendJSON(map[string]string{
		"type":    "subscribed",
		"task_id": taskID,
	}); err != nil {
		return
	}
	if err := s.bus.Subscribe(ctx, taskID, sub); err != nil {
		s.logger.Error("Subscribe failed", "task_id", taskID, "error", err)
		return
	}

	s.logger.Info("WebSocket client attached",
		"task_id", taskID, "subscriber_id", sub.id)

	// Read loop. Clients only ever send pings; everything else is
	// ignored.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Action == "ping" {
			_ = sub.sendJSON(map[string]string{"type": "pong"})
		}
	}
}

// wsSubscriber adapts one WebSocket connection to the bus subscriber
// contract. Send is called from emit goroutines while the read loop
// runs; the underlying connection serializes concurrent writes.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsSubscriber) ID() string { return w.id }

// Send delivers one event frame. A returned error drops this
// subscriber from the bus.
func (w *wsSubscriber) Send(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.write(data)
}

func (w *wsSubscriber) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(data)
}

func (w *wsSubscriber) write(data []byte) error {
	writeCtx, cancel := context.WithTimeout(w.ctx, wsWriteTimeout)
	defer cancel()
	return w.conn.Write(writeCtx, websocket.MessageText, data)
}
