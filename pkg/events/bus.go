package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jexlab/jex/pkg/metrics"
	"github.com/jexlab/jex/pkg/models"
)

// Bus fans task events out to subscribers and buffers them for catch-up
// reads. Emit methods never return errors: delivery problems are logged
// and the failing subscriber is dropped, the producing task is never
// interrupted by a broken consumer.
type Bus interface {
	// EmitProgress assigns the next sequence number for the task,
	// buffers the item in the task's ring and dispatches it.
	EmitProgress(ctx context.Context, taskID, phase string, progress int, message string)

	// EmitAIMessage dispatches an expert utterance. Content is
	// truncated to the configured byte limit on a code-point boundary.
	EmitAIMessage(ctx context.Context, taskID, actor, content string)

	// EmitError dispatches a task failure notice.
	EmitError(ctx context.Context, taskID, message string)

	// EmitComplete caches the completion envelope for late subscribers,
	// dispatches it, and schedules eviction of the task's buffers.
	EmitComplete(ctx context.Context, taskID string, output *models.FinalDocument)

	// FullProgress returns the buffered progress items in ascending
	// sequence order.
	FullProgress(ctx context.Context, taskID string) ([]models.ProgressItem, error)

	// Completion returns the cached completion envelope, or nil if the
	// task has not completed (or the cache already expired).
	Completion(ctx context.Context, taskID string) (*models.CompletionEnvelope, error)

	// Subscribe attaches the subscriber to the task's event stream,
	// releases any waiter blocked in WaitForSubscriber, and replays the
	// completion envelope if the task already finished.
	Subscribe(ctx context.Context, taskID string, sub Subscriber) error

	// Unsubscribe detaches the subscriber from every task it is
	// attached to.
	Unsubscribe(ctx context.Context, subID string)

	// WaitForSubscriber blocks until a subscriber attaches to the task,
	// the timeout elapses, or ctx is done. It reports whether a
	// subscriber is attached.
	WaitForSubscriber(ctx context.Context, taskID string, timeout time.Duration) bool

	// Close releases background resources. Emits after Close are
	// undefined.
	Close()
}

// registry tracks live subscribers with dual indexes: task id to
// subscriber ids for dispatch, subscriber id to task ids so disconnect
// cleanup does not scan every task.
type registry struct {
	mu       sync.RWMutex
	subs     map[string]Subscriber
	taskSubs map[string]map[string]bool
	subTasks map[string]map[string]bool
	logger   *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		subs:     make(map[string]Subscriber),
		taskSubs: make(map[string]map[string]bool),
		subTasks: make(map[string]map[string]bool),
		logger:   logger,
	}
}

func (r *registry) add(taskID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[sub.ID()] = sub
	if r.taskSubs[taskID] == nil {
		r.taskSubs[taskID] = make(map[string]bool)
	}
	r.taskSubs[taskID][sub.ID()] = true
	if r.subTasks[sub.ID()] == nil {
		r.subTasks[sub.ID()] = make(map[string]bool)
	}
	r.subTasks[sub.ID()][taskID] = true
}

// remove detaches the subscriber from every task and returns the task
// ids it was attached to.
func (r *registry) remove(subID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]string, 0, len(r.subTasks[subID]))
	for taskID := range r.subTasks[subID] {
		tasks = append(tasks, taskID)
		delete(r.taskSubs[taskID], subID)
		if len(r.taskSubs[taskID]) == 0 {
			delete(r.taskSubs, taskID)
		}
	}
	delete(r.subTasks, subID)
	delete(r.subs, subID)
	return tasks
}

// snapshot copies the task's subscribers so dispatch never sends while
// holding the lock.
func (r *registry) snapshot(taskID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscriber, 0, len(r.taskSubs[taskID]))
	for id := range r.taskSubs[taskID] {
		if sub, ok := r.subs[id]; ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (r *registry) count(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.taskSubs[taskID])
}

// dispatch delivers the envelope to every subscriber of the task. A
// failed send drops the subscriber from all tasks.
func (r *registry) dispatch(env Envelope) {
	env.Origin = ""
	for _, sub := range r.snapshot(env.TaskID) {
		if err := sub.Send(env); err != nil {
			r.logger.Warn("Dropping subscriber after failed send",
				"task_id", env.TaskID,
				"subscriber_id", sub.ID(),
				"error", err)
			r.remove(sub.ID())
		}
	}
}

func countEmit(eventType string) {
	metrics.EventsEmitted.WithLabelValues(eventType).Inc()
}
