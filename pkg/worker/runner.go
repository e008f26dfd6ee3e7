// Package worker owns the background half of a task: planning, the
// collaboration loop and integration. Each run holds the task lock for
// its duration, streams progress through the event bus and finishes by
// persisting the final document and flushing the audit trail.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/events"
	"github.com/jexlab/jex/pkg/locks"
	"github.com/jexlab/jex/pkg/metrics"
	"github.com/jexlab/jex/pkg/models"
	"github.com/jexlab/jex/pkg/pipeline"
)

// TaskStore is the slice of the task store the runner writes to.
type TaskStore interface {
	Complete(ctx context.Context, taskID string, output json.RawMessage, cost float64, duration int) error
	Fail(ctx context.Context, taskID string, output json.RawMessage) error
}

// UserStore updates the owner's lifetime totals after a completed run.
type UserStore interface {
	RecordCompletion(ctx context.Context, userID string, cost float64) error
}

// AuditStore persists a task's accumulated audit trail in one round-trip.
type AuditStore interface {
	InsertBatch(ctx context.Context, taskID string, entries []models.AuditEntry) error
}

// Runner executes background task runs, one goroutine per task. The task
// lock keeps other instances away from a task this runner owns; the
// cancel registry lets the API cancel a run on this instance.
type Runner struct {
	engine *pipeline.Engine
	tasks  TaskStore
	users  UserStore
	audit  AuditStore
	bus    events.Bus
	lock   locks.TaskLock
	limits *config.LimitsConfig
	logger *slog.Logger

	// Task cancel registry: task id to cancel function.
	mu     sync.RWMutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner wires a background runner. The engine must contain the task
// graph; the runner enters it at planning and integrate.
func NewRunner(engine *pipeline.Engine, tasks TaskStore, users UserStore, audit AuditStore, bus events.Bus, lock locks.TaskLock, limits *config.LimitsConfig) *Runner {
	return &Runner{
		engine: engine,
		tasks:  tasks,
		users:  users,
		audit:  audit,
		bus:    bus,
		lock:   lock,
		limits: limits,
		logger: slog.With("component", "worker"),
		active: make(map[string]context.CancelFunc),
	}
}

// Start acquires the task lock and launches the background routine. It
// reports false without error when another worker already holds the
// task. The run detaches from ctx's cancellation; cancel through Cancel
// or Stop.
func (r *Runner) Start(ctx context.Context, task *models.Task, state *models.PhaseState) (bool, error) {
	acquired, err := r.lock.Acquire(ctx, task.ID)
	if err != nil {
		return false, fmt.Errorf("acquiring task lock: %w", err)
	}
	if !acquired {
		r.logger.Info("Task locked by another worker, skipping", "task_id", task.ID)
		return false, nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.register(task.ID, cancel)
	r.wg.Add(1)
	metrics.ActiveTasks.Inc()

	go r.execute(runCtx, task, state)
	return true, nil
}

// Cancel aborts a run owned by this instance. It reports whether the
// task was active here.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cancel, ok := r.active[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// ActiveCount returns the number of runs currently executing.
func (r *Runner) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Stop cancels every active run and waits for the goroutines to drain.
func (r *Runner) Stop() {
	if ids := r.activeIDs(); len(ids) > 0 {
		r.logger.Info("Cancelling active tasks", "count", len(ids), "task_ids", ids)
	}

	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.active))
	for _, cancel := range r.active {
		cancels = append(cancels, cancel)
	}
	r.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	r.wg.Wait()
	r.logger.Info("Task runner stopped")
}

// execute is the goroutine body around one run: it translates the run's
// outcome and guarantees the lock release, the registry cleanup and the
// panic boundary no matter how the run ends.
func (r *Runner) execute(ctx context.Context, task *models.Task, state *models.PhaseState) {
	log := r.logger.With("task_id", task.ID, "user_id", task.UserID)

	// Terminal writes and the lock release must survive cancellation.
	detached := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error("Task run panicked", "panic", p, "stack", string(debug.Stack()))
			r.fail(detached, task.ID, fmt.Errorf("panic: %v", p))
		}
		if err := r.lock.Release(detached, task.ID); err != nil {
			log.Warn("Failed to release task lock", "error", err)
		}
		r.unregister(task.ID)
		metrics.ActiveTasks.Dec()
		r.wg.Done()
	}()

	err := r.run(ctx, task, state)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Info("Task cancelled", "rounds", state.CurrentRound, "cost", state.TotalCost)
	default:
		log.Error("Task failed", "error", err)
		r.fail(detached, task.ID, err)
	}
}

// run drives phases 2 through 5 and persists the outcome.
func (r *Runner) run(ctx context.Context, task *models.Task, state *models.PhaseState) error {
	// 1. Give the client a moment to attach. Emits are buffered either
	//    way, so a timeout only costs the live view of early events.
	if !r.bus.WaitForSubscriber(ctx, task.ID, r.limits.SubscriberWait) {
		r.logger.Debug("No subscriber attached, proceeding", "task_id", task.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 2. Planning, then the collaboration loop. The graph stops at the
	//    integrate threshold so step 4 can emit between the segments.
	r.emitProgress(ctx, state, models.PhasePlanning, 0, "Planning collaboration")
	stopped, err := r.engine.RunFrom(ctx, pipeline.NodePlanning, state, pipeline.RunOpts{
		StopBefore: func(next string) bool { return next == pipeline.NodeIntegrate },
		AfterNode:  func(node string, s *models.PhaseState) { r.afterNode(ctx, node, s) },
	})
	if err != nil {
		return err
	}
	if stopped != pipeline.NodeIntegrate {
		return fmt.Errorf("collaboration stopped at unexpected node %q", stopped)
	}

	// 3. Integration.
	r.emitProgress(ctx, state, models.PhaseIntegration, 0.5, "Integrating expert outputs")
	if _, err := r.engine.RunFrom(ctx, pipeline.NodeIntegrate, state, pipeline.RunOpts{}); err != nil {
		return err
	}

	// 4. Persist the completed row before announcing completion, so a
	//    subscriber reacting to the event always reads a completed task.
	output, err := json.Marshal(state.FinalOutput)
	if err != nil {
		return fmt.Errorf("marshaling final output: %w", err)
	}
	detached := context.WithoutCancel(ctx)
	duration := int(time.Since(task.CreatedAt).Seconds())

	r.emitProgress(ctx, state, models.PhaseFinalization, 1, "Task complete")
	if err := r.tasks.Complete(detached, task.ID, output, state.TotalCost, duration); err != nil {
		return err
	}
	r.bus.EmitComplete(detached, task.ID, state.FinalOutput)

	// 5. Flush the audit trail and the owner's totals. Both are degraded
	//    states when they fail, not failures: the task stays completed.
	if err := r.audit.InsertBatch(detached, task.ID, state.AuditTrail); err != nil {
		metrics.AuditInsertFailures.Inc()
		r.logger.Warn("Audit flush failed, trail is incomplete", "task_id", task.ID, "error", err)
	}
	if err := r.users.RecordCompletion(detached, task.UserID, state.TotalCost); err != nil {
		r.logger.Warn("Failed to update user totals", "task_id", task.ID, "user_id", task.UserID, "error", err)
	}

	metrics.TasksCompleted.Inc()
	r.logger.Info("Task completed",
		"task_id", task.ID,
		"rounds", state.CurrentRound,
		"stop_reason", state.StopReason,
		"cost", state.TotalCost,
		"duration_s", duration)
	return nil
}

// afterNode emits the client-visible events for each executed node:
// the collaboration kickoff after planning, and the expert utterances
// plus a round progress tick after each collaboration round.
func (r *Runner) afterNode(ctx context.Context, node string, state *models.PhaseState) {
	switch node {
	case pipeline.NodePlanning:
		r.emitProgress(ctx, state, models.PhaseCollaboration, 0,
			fmt.Sprintf("Starting %s collaboration", state.CollaborationMode))

	case pipeline.NodeDebate, pipeline.NodeReview:
		if n := len(state.DebateRounds); n > 0 {
			round := state.DebateRounds[n-1]
			r.bus.EmitAIMessage(ctx, state.TaskID, models.ActorA, round.AContent)
			r.bus.EmitAIMessage(ctx, state.TaskID, models.ActorB, round.BContent)
		}
		r.emitProgress(ctx, state, models.PhaseCollaboration,
			float64(state.CurrentRound)/float64(r.limits.HardRoundCap),
			fmt.Sprintf("Round %d complete", state.CurrentRound))
	}
}

// emitProgress maps the phase fraction to the 0-100 scale and keeps the
// emitted value monotonic through the state's high-water mark.
func (r *Runner) emitProgress(ctx context.Context, state *models.PhaseState, phase string, fraction float64, message string) {
	p := events.Progress(phase, fraction)
	if p < state.LastProgress {
		p = state.LastProgress
	}
	state.LastProgress = p
	r.bus.EmitProgress(ctx, state.TaskID, phase, p, message)
}

// fail marks the task failed and tells subscribers. The error text
// becomes the task's output payload.
func (r *Runner) fail(ctx context.Context, taskID string, runErr error) {
	output, _ := json.Marshal(map[string]string{"error": runErr.Error()})
	if err := r.tasks.Fail(ctx, taskID, output); err != nil {
		r.logger.Error("Failed to mark task failed", "task_id", taskID, "error", err)
	}
	r.bus.EmitError(ctx, taskID, runErr.Error())
	metrics.TasksFailed.Inc()
}

func (r *Runner) register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[taskID] = cancel
}

func (r *Runner) unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, taskID)
}

func (r *Runner) activeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
