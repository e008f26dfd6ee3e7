// Package events carries task progress from the background runtime to
// live subscribers. A Bus keeps a dense per-task sequence, a bounded
// ring of progress items for catch-up reads, and a completion cache so
// late subscribers still receive the final document. Two implementations
// exist: MemoryBus for a single process and RedisBus for multi-instance
// deployments.
package events

import (
	"time"

	"github.com/jexlab/jex/pkg/models"
)

// Event types carried in Envelope.Type.
const (
	EventProgress  = "progress"
	EventAIMessage = "ai_message"
	EventError     = "error"
	EventComplete  = "complete"

	// eventSubscribed is an internal control event published when a
	// subscriber attaches, so waiters on other instances unblock. It is
	// never delivered to subscribers.
	eventSubscribed = "subscribed"
)

// Envelope is the wire form of one event. Fields beyond Type and TaskID
// are populated per event type: progress events carry Seq/Phase/
// Progress/Message, AI messages carry Actor/Content, errors carry
// Message, completions carry Output.
type Envelope struct {
	Type      string                `json:"type"`
	TaskID    string                `json:"task_id"`
	Seq       int64                 `json:"seq,omitempty"`
	Phase     string                `json:"phase,omitempty"`
	Progress  int                   `json:"progress,omitempty"`
	Message   string                `json:"message,omitempty"`
	Actor     string                `json:"actor,omitempty"`
	Content   string                `json:"content,omitempty"`
	Output    *models.FinalDocument `json:"output,omitempty"`
	Timestamp time.Time             `json:"timestamp,omitempty"`

	// Origin identifies the bus instance that produced the event. It is
	// used to skip pub/sub echoes of locally dispatched events and is
	// stripped before delivery.
	Origin string `json:"origin,omitempty"`
}

// Subscriber receives events for the tasks it is attached to. Send must
// be safe for concurrent use; a returned error drops the subscriber
// from every task it is attached to.
type Subscriber interface {
	ID() string
	Send(Envelope) error
}

func progressEnvelope(item models.ProgressItem) Envelope {
	return Envelope{
		Type:      EventProgress,
		TaskID:    item.TaskID,
		Seq:       item.Seq,
		Phase:     item.Phase,
		Progress:  item.Progress,
		Message:   item.Message,
		Timestamp: item.Timestamp,
	}
}
