package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/models"
)

const keyPrefix = "jex:task:"

func seqKey(taskID string) string       { return keyPrefix + taskID + ":seq" }
func ringKey(taskID string) string      { return keyPrefix + taskID + ":progress" }
func completeKey(taskID string) string  { return keyPrefix + taskID + ":complete" }
func subsKey(taskID string) string      { return keyPrefix + taskID + ":subs" }
func eventChannel(taskID string) string { return keyPrefix + taskID + ":events" }

const channelPattern = keyPrefix + "*:events"

// RedisBus is the multi-instance Bus. Sequence counters, progress rings
// and completion envelopes live in Redis; events reach subscribers on
// other instances over pub/sub. Each instance dispatches its own
// events directly and skips their pub/sub echo by origin id.
type RedisBus struct {
	*registry
	client *redis.Client
	limits *config.LimitsConfig
	logger *slog.Logger
	id     string

	mu      sync.Mutex
	waiters map[string]chan struct{}

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBus connects the bus to the shared event channels. It blocks
// until the pub/sub subscription is confirmed so no event published
// after the call can be missed.
func NewRedisBus(ctx context.Context, client *redis.Client, limits *config.LimitsConfig) (*RedisBus, error) {
	logger := slog.With("component", "events.redis")
	pubsub := client.PSubscribe(context.WithoutCancel(ctx), channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to event channels: %w", err)
	}

	b := &RedisBus{
		registry: newRegistry(logger),
		client:   client,
		limits:   limits,
		logger:   logger,
		id:       uuid.NewString(),
		waiters:  make(map[string]chan struct{}),
		pubsub:   pubsub,
		done:     make(chan struct{}),
	}
	go b.listen()
	return b, nil
}

// listen routes pub/sub messages from other instances to local
// subscribers. It exits when the pub/sub connection closes.
func (b *RedisBus) listen() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warn("Dropping malformed bus event", "channel", msg.Channel, "error", err)
			continue
		}
		if env.Origin == b.id {
			continue
		}
		if env.Type == eventSubscribed {
			b.releaseWaiters(env.TaskID)
			continue
		}
		b.dispatch(env)
	}
}

func (b *RedisBus) EmitProgress(ctx context.Context, taskID, phase string, progress int, message string) {
	seq, err := b.client.Incr(ctx, seqKey(taskID)).Result()
	if err != nil {
		b.logger.Error("Progress sequence increment failed", "task_id", taskID, "error", err)
		return
	}
	item := models.ProgressItem{
		Seq:       seq,
		Phase:     phase,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
	}

	data, _ := json.Marshal(item)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, ringKey(taskID), data)
	pipe.LTrim(ctx, ringKey(taskID), int64(-b.limits.RingCapacity), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("Progress buffering failed", "task_id", taskID, "error", err)
	}

	env := progressEnvelope(item)
	b.publish(ctx, env)
	b.dispatch(env)
	countEmit(EventProgress)
}

func (b *RedisBus) EmitAIMessage(ctx context.Context, taskID, actor, content string) {
	env := Envelope{
		Type:      EventAIMessage,
		TaskID:    taskID,
		Actor:     actor,
		Content:   models.TruncateUTF8(content, b.limits.AIMessageMaxBytes),
		Timestamp: time.Now().UTC(),
	}
	b.publish(ctx, env)
	b.dispatch(env)
	countEmit(EventAIMessage)
}

func (b *RedisBus) EmitError(ctx context.Context, taskID, message string) {
	env := Envelope{
		Type:      EventError,
		TaskID:    taskID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	b.publish(ctx, env)
	b.dispatch(env)
	countEmit(EventError)
}

func (b *RedisBus) EmitComplete(ctx context.Context, taskID string, output *models.FinalDocument) {
	data, _ := json.Marshal(models.CompletionEnvelope{TaskID: taskID, Output: output})
	ttl := b.limits.CompletionTTL
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, completeKey(taskID), data, ttl)
	pipe.Expire(ctx, ringKey(taskID), ttl)
	pipe.Expire(ctx, seqKey(taskID), ttl)
	pipe.Expire(ctx, subsKey(taskID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("Completion caching failed", "task_id", taskID, "error", err)
	}

	env := Envelope{
		Type:      EventComplete,
		TaskID:    taskID,
		Output:    output,
		Timestamp: time.Now().UTC(),
	}
	b.publish(ctx, env)
	b.dispatch(env)
	countEmit(EventComplete)
}

func (b *RedisBus) FullProgress(ctx context.Context, taskID string) ([]models.ProgressItem, error) {
	vals, err := b.client.LRange(ctx, ringKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading progress buffer: %w", err)
	}
	items := make([]models.ProgressItem, 0, len(vals))
	for _, v := range vals {
		var item models.ProgressItem
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			b.logger.Warn("Skipping malformed progress item", "task_id", taskID, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (b *RedisBus) Completion(ctx context.Context, taskID string) (*models.CompletionEnvelope, error) {
	data, err := b.client.Get(ctx, completeKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading completion cache: %w", err)
	}
	var envelope models.CompletionEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding completion cache: %w", err)
	}
	return &envelope, nil
}

func (b *RedisBus) Subscribe(ctx context.Context, taskID string, sub Subscriber) error {
	b.add(taskID, sub)
	b.releaseWaiters(taskID)

	pipe := b.client.TxPipeline()
	pipe.Incr(ctx, subsKey(taskID))
	pipe.Expire(ctx, subsKey(taskID), b.limits.LockTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("Subscriber counter update failed", "task_id", taskID, "error", err)
	}
	b.publish(ctx, Envelope{Type: eventSubscribed, TaskID: taskID})

	envelope, err := b.Completion(ctx, taskID)
	if err != nil {
		b.logger.Warn("Completion replay failed", "task_id", taskID, "error", err)
		return nil
	}
	if envelope != nil {
		if err := sub.Send(Envelope{
			Type:      EventComplete,
			TaskID:    taskID,
			Output:    envelope.Output,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			b.Unsubscribe(ctx, sub.ID())
			return err
		}
	}
	return nil
}

func (b *RedisBus) Unsubscribe(ctx context.Context, subID string) {
	for _, taskID := range b.remove(subID) {
		if err := b.client.Decr(ctx, subsKey(taskID)).Err(); err != nil {
			b.logger.Warn("Subscriber counter decrement failed", "task_id", taskID, "error", err)
		}
	}
}

func (b *RedisBus) WaitForSubscriber(ctx context.Context, taskID string, timeout time.Duration) bool {
	if b.subscribed(ctx, taskID) {
		return true
	}

	b.mu.Lock()
	ch, ok := b.waiters[taskID]
	if !ok {
		ch = make(chan struct{})
		b.waiters[taskID] = ch
	}
	b.mu.Unlock()

	// A subscriber on another instance may have attached between the
	// first check and the waiter registration; it incremented the
	// counter before publishing, so a re-read catches it.
	if b.subscribed(ctx, taskID) {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// subscribed reports whether any instance has a live subscriber for
// the task.
func (b *RedisBus) subscribed(ctx context.Context, taskID string) bool {
	if b.count(taskID) > 0 {
		return true
	}
	n, err := b.client.Get(ctx, subsKey(taskID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		b.logger.Warn("Subscriber counter read failed", "task_id", taskID, "error", err)
	}
	return n > 0
}

func (b *RedisBus) releaseWaiters(taskID string) {
	b.mu.Lock()
	ch, ok := b.waiters[taskID]
	if ok {
		delete(b.waiters, taskID)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *RedisBus) Close() {
	if err := b.pubsub.Close(); err != nil {
		b.logger.Warn("Event channel close failed", "error", err)
	}
	<-b.done

	b.mu.Lock()
	for taskID, ch := range b.waiters {
		delete(b.waiters, taskID)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *RedisBus) publish(ctx context.Context, env Envelope) {
	env.Origin = b.id
	payload, _ := json.Marshal(env)
	if err := b.client.Publish(ctx, eventChannel(env.TaskID), payload).Err(); err != nil {
		b.logger.Warn("Event publish failed", "task_id", env.TaskID, "type", env.Type, "error", err)
	}
}
