package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/events"
	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/locks"
	"github.com/jexlab/jex/pkg/models"
	"github.com/jexlab/jex/pkg/phases"
)

// Scripted upstream payloads shared by the graph and runner tests.
const (
	planDebateJSON = `{"task_type": "decision", "collaboration_mode": "debate",
		"ai_a_role": "argue from rigor", "ai_b_role": "argue from pragmatics",
		"max_rounds": 3, "reasoning": "contested tradeoff"}`

	convergedJSON = `{"has_significant_divergence": false, "divergence_points": [], "reason": "aligned"}`
	divergedJSON  = `{"has_significant_divergence": true, "divergence_points": ["timing"], "reason": "timing disputed"}`
	noveltyJSON   = `{"has_novelty": true, "new_points": ["tax angle"], "reason": "still moving"}`

	finalDocJSON = `{"executive_summary": {"tldr": "Ship it", "key_actions": ["Decide by Friday"]},
		"certain_advice": {"title": "Do the move", "content": "The evidence points one way.", "risks": ["timing"]},
		"hypothetical_advice": [], "divergences": [],
		"hooks": {"satisfaction_check": "Does this cover it?", "missing_info_hint": []}}`
)

// mockResponse is one scripted upstream reply.
type mockResponse struct {
	content string
	err     error
}

// mockCaller pops scripted responses per endpoint. Safe for the parallel
// A/B calls the debate rounds make.
type mockCaller struct {
	mu   sync.Mutex
	meta []mockResponse
	a    []mockResponse
	b    []mockResponse
}

func (m *mockCaller) CallMeta(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pop(&m.meta)
}

func (m *mockCaller) CallA(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pop(&m.a)
}

func (m *mockCaller) CallB(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pop(&m.b)
}

func (m *mockCaller) pop(queue *[]mockResponse) (*llm.ChatResult, error) {
	if len(*queue) == 0 {
		panic("mockCaller: no scripted response left")
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.ChatResult{
		Content: r.content,
		Tokens:  llm.TokenUsage{Prompt: 60, Completion: 40, Total: 100},
		Cost:    0.01,
		Model:   "mock",
		Name:    "mock",
	}, nil
}

// blockedCaller parks every call until its context is cancelled and
// announces the first few arrivals on entered.
type blockedCaller struct {
	entered chan struct{}
}

func newBlockedCaller() *blockedCaller {
	return &blockedCaller{entered: make(chan struct{}, 4)}
}

func (c *blockedCaller) block(ctx context.Context) (*llm.ChatResult, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *blockedCaller) CallMeta(ctx context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	return c.block(ctx)
}

func (c *blockedCaller) CallA(ctx context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	return c.block(ctx)
}

func (c *blockedCaller) CallB(ctx context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	return c.block(ctx)
}

type taskCompletion struct {
	taskID   string
	output   json.RawMessage
	cost     float64
	duration int
}

type taskFailure struct {
	taskID string
	output json.RawMessage
}

type fakeTaskStore struct {
	mu        sync.Mutex
	completes []taskCompletion
	fails     []taskFailure
}

func (f *fakeTaskStore) Complete(_ context.Context, taskID string, output json.RawMessage, cost float64, duration int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, taskCompletion{taskID, output, cost, duration})
	return nil
}

func (f *fakeTaskStore) Fail(_ context.Context, taskID string, output json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = append(f.fails, taskFailure{taskID, output})
	return nil
}

func (f *fakeTaskStore) completions() []taskCompletion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskCompletion(nil), f.completes...)
}

func (f *fakeTaskStore) failures() []taskFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskFailure(nil), f.fails...)
}

type userRecord struct {
	userID string
	cost   float64
}

type fakeUserStore struct {
	mu     sync.Mutex
	recs   []userRecord
	recErr error
}

func (f *fakeUserStore) RecordCompletion(_ context.Context, userID string, cost float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recErr != nil {
		return f.recErr
	}
	f.recs = append(f.recs, userRecord{userID, cost})
	return nil
}

func (f *fakeUserStore) records() []userRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]userRecord(nil), f.recs...)
}

type auditBatch struct {
	taskID  string
	entries []models.AuditEntry
}

type fakeAuditStore struct {
	mu      sync.Mutex
	inserts []auditBatch
	err     error
}

func (f *fakeAuditStore) InsertBatch(_ context.Context, taskID string, entries []models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserts = append(f.inserts, auditBatch{taskID, entries})
	return nil
}

func (f *fakeAuditStore) batches() []auditBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auditBatch(nil), f.inserts...)
}

// captureSub records every envelope it receives.
type captureSub struct {
	id string
	mu sync.Mutex
	gt []events.Envelope
}

func (s *captureSub) ID() string { return s.id }

func (s *captureSub) Send(env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gt = append(s.gt, env)
	return nil
}

func (s *captureSub) byType(eventType string) []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Envelope
	for _, env := range s.gt {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

// runnerFixture bundles a runner with its fakes and the in-process bus.
type runnerFixture struct {
	runner *Runner
	tasks  *fakeTaskStore
	users  *fakeUserStore
	audit  *fakeAuditStore
	bus    *events.MemoryBus
	lock   *locks.MemoryLock
}

func newFixture(t *testing.T, caller phases.Caller, mutate func(*config.LimitsConfig)) *runnerFixture {
	t.Helper()

	limits := config.DefaultLimits()
	limits.SubscriberWait = 20 * time.Millisecond
	if mutate != nil {
		mutate(limits)
	}

	graph, err := NewTaskGraph(caller, limits.HardRoundCap)
	require.NoError(t, err)

	bus := events.NewMemoryBus(limits)
	t.Cleanup(bus.Close)

	f := &runnerFixture{
		tasks: &fakeTaskStore{},
		users: &fakeUserStore{},
		audit: &fakeAuditStore{},
		bus:   bus,
		lock:  locks.NewMemoryLock(limits.LockTTL),
	}
	f.runner = NewRunner(graph, f.tasks, f.users, f.audit, bus, f.lock, limits)
	return f
}

// backgroundTask returns a task and its hand-off state as they look when
// the background half begins.
func backgroundTask() (*models.Task, *models.PhaseState) {
	task := &models.Task{
		ID:        "task-1",
		UserID:    "user-1",
		Scene:     "career",
		UserInput: "Should I switch jobs now or wait a year?",
		Status:    models.StatusProcessing,
		CreatedAt: time.Now().Add(-3 * time.Second),
	}
	state := models.NewPhaseState(task.ID, task.UserID, task.Scene, task.UserInput)
	state.ProvidedInfo = map[string]any{"role": "senior engineer"}
	state.InfoSufficiency = 0.9
	return task, state
}

// waitDone blocks until the runner has no active runs left.
func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.ActiveCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
