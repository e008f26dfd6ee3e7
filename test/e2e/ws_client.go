package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// WSEvent is one frame received over the event stream.
type WSEvent struct {
	Type     string
	Raw      json.RawMessage
	Parsed   map[string]any
	Received time.Time
}

// WSClient collects event stream frames for one task in the background
// so tests can assert on them after the fact.
type WSClient struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	events []WSEvent
}

// WSConnect opens the event stream for a task and starts reading. The
// server confirms the subscription before replaying anything, so tests
// should wait for the "subscribed" frame before driving the task.
func (app *TestApp) WSConnect(t *testing.T, userID, taskID string) *WSClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	header := http.Header{}
	header.Set("X-User-ID", userID)
	conn, _, err := websocket.Dial(ctx, app.wsURLFor(taskID), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		cancel()
		require.NoError(t, err, "websocket dial failed")
	}
	// Tests can receive many frames before draining them.
	conn.SetReadLimit(1 << 20)

	client := &WSClient{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go client.readLoop(ctx)

	t.Cleanup(client.Close)
	return client
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		event := WSEvent{
			Raw:      json.RawMessage(data),
			Received: time.Now(),
		}
		if err := json.Unmarshal(data, &event.Parsed); err == nil {
			if s, ok := event.Parsed["type"].(string); ok {
				event.Type = s
			}
		}
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
	}
}

// Events returns a snapshot of everything received so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsOfType filters the received frames by type.
func (c *WSClient) EventsOfType(eventType string) []WSEvent {
	var out []WSEvent
	for _, event := range c.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// WaitForEvent blocks until a frame matching the predicate arrives.
func (c *WSClient) WaitForEvent(t *testing.T, timeout time.Duration, match func(WSEvent) bool) WSEvent {
	t.Helper()
	var found WSEvent
	require.Eventually(t, func() bool {
		for _, event := range c.Events() {
			if match(event) {
				found = event
				return true
			}
		}
		return false
	}, timeout, 25*time.Millisecond, "no matching event within %s", timeout)
	return found
}

// WaitForType blocks until a frame of the given type arrives.
func (c *WSClient) WaitForType(t *testing.T, eventType string, timeout time.Duration) WSEvent {
	t.Helper()
	return c.WaitForEvent(t, timeout, func(event WSEvent) bool {
		return event.Type == eventType
	})
}

// Ping sends a ping frame and waits for the pong.
func (c *WSClient) Ping(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))
	c.WaitForType(t, "pong", 5*time.Second)
}

// Close tears the connection down and waits for the read loop to exit.
// Safe to call more than once.
func (c *WSClient) Close() {
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}
