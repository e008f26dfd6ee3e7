package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/events"
	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

func TestRunner_RunsTaskToCompletion(t *testing.T) {
	mock := &mockCaller{
		meta: []mockResponse{
			{content: planDebateJSON},
			{content: convergedJSON},
			{content: finalDocJSON},
		},
		a: []mockResponse{{content: "A opening"}},
		b: []mockResponse{{content: "B opening"}},
	}
	f := newFixture(t, mock, nil)
	task, state := backgroundTask()

	sub := &captureSub{id: "viewer"}
	require.NoError(t, f.bus.Subscribe(context.Background(), task.ID, sub))

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)
	waitDone(t, f.runner)

	// The row is finalized with the document, the accumulated cost and a
	// wall-clock duration.
	completions := f.tasks.completions()
	require.Len(t, completions, 1)
	done := completions[0]
	assert.Equal(t, task.ID, done.taskID)
	assert.InDelta(t, 0.05, done.cost, 1e-9)
	assert.GreaterOrEqual(t, done.duration, 3)

	var doc models.FinalDocument
	require.NoError(t, json.Unmarshal(done.output, &doc))
	assert.Equal(t, "Ship it", doc.ExecutiveSummary.TLDR)

	// Plan, two positions, divergence check, integrate: one flush.
	batches := f.audit.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, task.ID, batches[0].taskID)
	assert.Len(t, batches[0].entries, 5)

	records := f.users.records()
	require.Len(t, records, 1)
	assert.Equal(t, task.UserID, records[0].userID)
	assert.InDelta(t, 0.05, records[0].cost, 1e-9)

	assert.Empty(t, f.tasks.failures())
}

func TestRunner_EmitsOrderedProgressAndMessages(t *testing.T) {
	mock := &mockCaller{
		meta: []mockResponse{
			{content: planDebateJSON},
			{content: convergedJSON},
			{content: finalDocJSON},
		},
		a: []mockResponse{{content: "A opening"}},
		b: []mockResponse{{content: "B opening"}},
	}
	f := newFixture(t, mock, nil)
	task, state := backgroundTask()

	sub := &captureSub{id: "viewer"}
	require.NoError(t, f.bus.Subscribe(context.Background(), task.ID, sub))

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)
	waitDone(t, f.runner)

	progress := sub.byType(events.EventProgress)
	require.Len(t, progress, 5)

	var (
		values     []int
		phaseNames []string
	)
	for i, env := range progress {
		values = append(values, env.Progress)
		phaseNames = append(phaseNames, env.Phase)
		assert.Equal(t, int64(i+1), env.Seq)
	}
	assert.Equal(t, []int{20, 40, 43, 80, 100}, values)
	assert.Equal(t, []string{
		models.PhasePlanning,
		models.PhaseCollaboration,
		models.PhaseCollaboration,
		models.PhaseIntegration,
		models.PhaseFinalization,
	}, phaseNames)

	messages := sub.byType(events.EventAIMessage)
	require.Len(t, messages, 2)
	assert.Equal(t, models.ActorA, messages[0].Actor)
	assert.Equal(t, "A opening", messages[0].Content)
	assert.Equal(t, models.ActorB, messages[1].Actor)
	assert.Equal(t, "B opening", messages[1].Content)

	completes := sub.byType(events.EventComplete)
	require.Len(t, completes, 1)
	require.NotNil(t, completes[0].Output)
	assert.Equal(t, "Ship it", completes[0].Output.ExecutiveSummary.TLDR)
	assert.Empty(t, sub.byType(events.EventError))
}

func TestRunner_BuffersProgressWithoutSubscriber(t *testing.T) {
	mock := &mockCaller{
		meta: []mockResponse{
			{content: planDebateJSON},
			{content: convergedJSON},
			{content: finalDocJSON},
		},
		a: []mockResponse{{content: "A opening"}},
		b: []mockResponse{{content: "B opening"}},
	}
	f := newFixture(t, mock, func(l *config.LimitsConfig) {
		l.SubscriberWait = time.Millisecond
	})
	task, state := backgroundTask()

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)
	waitDone(t, f.runner)

	items, err := f.bus.FullProgress(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, int64(i+1), item.Seq)
	}
	assert.Equal(t, 100, items[len(items)-1].Progress)

	// A late subscriber still receives the completion envelope.
	sub := &captureSub{id: "late"}
	require.NoError(t, f.bus.Subscribe(context.Background(), task.ID, sub))
	require.Len(t, sub.byType(events.EventComplete), 1)
}

func TestRunner_MarksTaskFailedOnPhaseError(t *testing.T) {
	mock := &mockCaller{
		meta: []mockResponse{{content: planDebateJSON}},
		a:    []mockResponse{{err: errors.New("endpoint down")}},
		b:    []mockResponse{{content: "B opening"}},
	}
	f := newFixture(t, mock, nil)
	task, state := backgroundTask()

	sub := &captureSub{id: "viewer"}
	require.NoError(t, f.bus.Subscribe(context.Background(), task.ID, sub))

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)
	waitDone(t, f.runner)

	failures := f.tasks.failures()
	require.Len(t, failures, 1)
	assert.Equal(t, task.ID, failures[0].taskID)
	assert.Contains(t, string(failures[0].output), "expert A")
	assert.Empty(t, f.tasks.completions())
	assert.Empty(t, f.audit.batches())
	assert.Empty(t, f.users.records())

	errs := sub.byType(events.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "expert A")
	assert.Empty(t, sub.byType(events.EventComplete))

	// The lease is free for a retry.
	acquired, err := f.lock.Acquire(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRunner_CompletionSurvivesDegradedFlushes(t *testing.T) {
	mock := &mockCaller{
		meta: []mockResponse{
			{content: planDebateJSON},
			{content: convergedJSON},
			{content: finalDocJSON},
		},
		a: []mockResponse{{content: "A opening"}},
		b: []mockResponse{{content: "B opening"}},
	}
	f := newFixture(t, mock, nil)
	f.audit.err = errors.New("copy failed")
	f.users.recErr = errors.New("users table locked")
	task, state := backgroundTask()

	sub := &captureSub{id: "viewer"}
	require.NoError(t, f.bus.Subscribe(context.Background(), task.ID, sub))

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)
	waitDone(t, f.runner)

	// The task stays completed; the lost audit batch and user totals are
	// degraded state, not failures.
	require.Len(t, f.tasks.completions(), 1)
	assert.Empty(t, f.tasks.failures())
	require.Len(t, sub.byType(events.EventComplete), 1)
	assert.Empty(t, sub.byType(events.EventError))
}

func TestRunner_CancelReleasesLockWithoutFailure(t *testing.T) {
	caller := newBlockedCaller()
	f := newFixture(t, caller, func(l *config.LimitsConfig) {
		l.SubscriberWait = time.Millisecond
	})
	task, state := backgroundTask()

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)

	select {
	case <-caller.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("planning call never started")
	}

	require.True(t, f.runner.Cancel(task.ID))
	waitDone(t, f.runner)

	// Cancellation is not a failure: no row update, no error event.
	assert.Empty(t, f.tasks.failures())
	assert.Empty(t, f.tasks.completions())

	acquired, err := f.lock.Acquire(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, acquired)

	assert.False(t, f.runner.Cancel(task.ID))
}

func TestRunner_StartSkipsHeldLock(t *testing.T) {
	caller := newBlockedCaller()
	f := newFixture(t, caller, nil)
	task, state := backgroundTask()

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)

	again, err := f.runner.Start(context.Background(), task,
		models.NewPhaseState(task.ID, task.UserID, task.Scene, task.UserInput))
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, 1, f.runner.ActiveCount())

	f.runner.Stop()
	assert.Equal(t, 0, f.runner.ActiveCount())
	assert.Empty(t, f.tasks.failures())
}

func TestRunner_PanicIsRecoveredAndRecorded(t *testing.T) {
	f := newFixture(t, panicCaller{}, func(l *config.LimitsConfig) {
		l.SubscriberWait = time.Millisecond
	})
	task, state := backgroundTask()

	sub := &captureSub{id: "viewer"}
	require.NoError(t, f.bus.Subscribe(context.Background(), task.ID, sub))

	started, err := f.runner.Start(context.Background(), task, state)
	require.NoError(t, err)
	require.True(t, started)
	waitDone(t, f.runner)

	failures := f.tasks.failures()
	require.Len(t, failures, 1)
	assert.Contains(t, string(failures[0].output), "panic: exploded in flight")
	require.Len(t, sub.byType(events.EventError), 1)

	acquired, err := f.lock.Acquire(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, acquired)
}

// panicCaller panics on the first upstream call of the run.
type panicCaller struct{}

func (panicCaller) CallMeta(context.Context, []llm.Message, llm.ChatOptions) (*llm.ChatResult, error) {
	panic("exploded in flight")
}

func (panicCaller) CallA(context.Context, []llm.Message, llm.ChatOptions) (*llm.ChatResult, error) {
	return nil, errors.New("unreachable")
}

func (panicCaller) CallB(context.Context, []llm.Message, llm.ChatOptions) (*llm.ChatResult, error) {
	return nil, errors.New("unreachable")
}
