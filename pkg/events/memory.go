package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/models"
)

// taskStream is the buffered state for one task: its sequence counter,
// the bounded ring of progress items, the cached completion envelope,
// and the wait gate released by the first subscriber.
type taskStream struct {
	seq        int64
	ring       []models.ProgressItem
	createdAt  time.Time
	completion *models.CompletionEnvelope
	waitCh     chan struct{}
	evict      *time.Timer
}

// MemoryBus is the single-process Bus. All buffering lives on the heap;
// nothing survives a restart.
type MemoryBus struct {
	*registry
	limits *config.LimitsConfig
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*taskStream
}

// NewMemoryBus returns an in-process bus sized by the configured limits.
func NewMemoryBus(limits *config.LimitsConfig) *MemoryBus {
	logger := slog.With("component", "events.memory")
	return &MemoryBus{
		registry: newRegistry(logger),
		limits:   limits,
		logger:   logger,
		streams:  make(map[string]*taskStream),
	}
}

func (b *MemoryBus) EmitProgress(ctx context.Context, taskID, phase string, progress int, message string) {
	b.mu.Lock()
	st := b.streamLocked(taskID)
	st.seq++
	item := models.ProgressItem{
		Seq:       st.seq,
		Phase:     phase,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
	}
	st.ring = append(st.ring, item)
	if len(st.ring) > b.limits.RingCapacity {
		st.ring = st.ring[len(st.ring)-b.limits.RingCapacity:]
	}
	b.mu.Unlock()

	b.dispatch(progressEnvelope(item))
	countEmit(EventProgress)
}

func (b *MemoryBus) EmitAIMessage(ctx context.Context, taskID, actor, content string) {
	b.dispatch(Envelope{
		Type:      EventAIMessage,
		TaskID:    taskID,
		Actor:     actor,
		Content:   models.TruncateUTF8(content, b.limits.AIMessageMaxBytes),
		Timestamp: time.Now().UTC(),
	})
	countEmit(EventAIMessage)
}

func (b *MemoryBus) EmitError(ctx context.Context, taskID, message string) {
	b.dispatch(Envelope{
		Type:      EventError,
		TaskID:    taskID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	countEmit(EventError)
}

func (b *MemoryBus) EmitComplete(ctx context.Context, taskID string, output *models.FinalDocument) {
	b.mu.Lock()
	st := b.streamLocked(taskID)
	st.completion = &models.CompletionEnvelope{TaskID: taskID, Output: output}
	if st.evict != nil {
		st.evict.Stop()
	}
	st.evict = time.AfterFunc(b.limits.CompletionTTL, func() {
		b.mu.Lock()
		delete(b.streams, taskID)
		b.mu.Unlock()
	})
	b.mu.Unlock()

	b.dispatch(Envelope{
		Type:      EventComplete,
		TaskID:    taskID,
		Output:    output,
		Timestamp: time.Now().UTC(),
	})
	countEmit(EventComplete)
}

func (b *MemoryBus) FullProgress(ctx context.Context, taskID string) ([]models.ProgressItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[taskID]
	if !ok {
		return nil, nil
	}
	items := make([]models.ProgressItem, len(st.ring))
	copy(items, st.ring)
	return items, nil
}

func (b *MemoryBus) Completion(ctx context.Context, taskID string) (*models.CompletionEnvelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.streams[taskID]; ok {
		return st.completion, nil
	}
	return nil, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, taskID string, sub Subscriber) error {
	b.add(taskID, sub)

	b.mu.Lock()
	var waitCh chan struct{}
	var completion *models.CompletionEnvelope
	if st, ok := b.streams[taskID]; ok {
		waitCh, st.waitCh = st.waitCh, nil
		completion = st.completion
	}
	b.mu.Unlock()

	if waitCh != nil {
		close(waitCh)
	}
	if completion != nil {
		if err := sub.Send(Envelope{
			Type:      EventComplete,
			TaskID:    taskID,
			Output:    completion.Output,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			b.remove(sub.ID())
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Unsubscribe(ctx context.Context, subID string) {
	b.remove(subID)
}

func (b *MemoryBus) WaitForSubscriber(ctx context.Context, taskID string, timeout time.Duration) bool {
	if b.count(taskID) > 0 {
		return true
	}

	b.mu.Lock()
	st := b.streamLocked(taskID)
	if st.waitCh == nil {
		st.waitCh = make(chan struct{})
	}
	waitCh := st.waitCh
	b.mu.Unlock()

	// A subscriber may have attached between the first check and the
	// gate being published; Subscribe closes the gate only if it sees
	// it.
	if b.count(taskID) > 0 {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, st := range b.streams {
		if st.evict != nil {
			st.evict.Stop()
		}
	}
	b.streams = make(map[string]*taskStream)
}

// streamLocked returns the task's stream, creating it if needed. The
// caller holds b.mu. Creation enforces the global cap by evicting the
// oldest fifth of tracked tasks.
func (b *MemoryBus) streamLocked(taskID string) *taskStream {
	if st, ok := b.streams[taskID]; ok {
		return st
	}
	if len(b.streams) >= b.limits.MaxTrackedTasks {
		b.evictOldestLocked()
	}
	st := &taskStream{createdAt: time.Now()}
	b.streams[taskID] = st
	return st
}

func (b *MemoryBus) evictOldestLocked() {
	type entry struct {
		id        string
		createdAt time.Time
	}
	entries := make([]entry, 0, len(b.streams))
	for id, st := range b.streams {
		entries = append(entries, entry{id, st.createdAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	n := b.limits.MaxTrackedTasks / 5
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && i < len(entries); i++ {
		st := b.streams[entries[i].id]
		if st.evict != nil {
			st.evict.Stop()
		}
		delete(b.streams, entries[i].id)
	}
	b.logger.Warn("Evicted oldest task streams, tracked-task cap reached",
		"evicted", n, "cap", b.limits.MaxTrackedTasks)
}
