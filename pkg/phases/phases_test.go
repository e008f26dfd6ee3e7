package phases

import (
	"context"
	"sync"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

// mockResponse is one scripted upstream reply.
type mockResponse struct {
	content string
	err     error
}

// mockCaller pops scripted responses per endpoint and records every call.
// Safe for the parallel A/B calls the debate round makes.
type mockCaller struct {
	mu   sync.Mutex
	meta []mockResponse
	a    []mockResponse
	b    []mockResponse

	metaCalls []capturedCall
	aCalls    []capturedCall
	bCalls    []capturedCall
}

type capturedCall struct {
	messages []llm.Message
	opts     llm.ChatOptions
}

const (
	mockTokens = 100
	mockCost   = 0.01
)

func (m *mockCaller) CallMeta(_ context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metaCalls = append(m.metaCalls, capturedCall{messages, opts})
	return m.pop(&m.meta)
}

func (m *mockCaller) CallA(_ context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aCalls = append(m.aCalls, capturedCall{messages, opts})
	return m.pop(&m.a)
}

func (m *mockCaller) CallB(_ context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bCalls = append(m.bCalls, capturedCall{messages, opts})
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
		Tokens:  llm.TokenUsage{Prompt: 60, Completion: 40, Total: mockTokens},
		Cost:    mockCost,
		Model:   "mock",
		Name:    "mock",
	}, nil
}

// newState builds a minimal state for phase tests.
func newState() *models.PhaseState {
	return models.NewPhaseState("task-1", "user-1", "career", "Should I switch jobs now or wait a year?")
}

// applied runs Apply on a fresh copy so tests can assert on post-apply
// state without reimplementing delta semantics.
func applied(state *models.PhaseState, d *models.PhaseDelta) *models.PhaseState {
	state.Apply(d)
	return state
}
