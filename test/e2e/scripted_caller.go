package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jexlab/jex/pkg/llm"
)

// ScriptEntry is one scripted upstream response.
type ScriptEntry struct {
	// Match routes the entry: it is consumed by the first call whose
	// prompt contains the substring. Empty means sequential consumption.
	Match   string
	Content string
	Err     error
}

// endpointScript holds one endpoint's scripted responses with dual
// dispatch: routed entries for concurrent tests where call order is
// non-deterministic, a sequential queue for everything else.
type endpointScript struct {
	name       string
	routed     []ScriptEntry
	sequential []ScriptEntry
	calls      int
}

func (s *endpointScript) next(messages []llm.Message) (*ScriptEntry, error) {
	s.calls++

	// Routed entries win: find the first whose marker appears in the
	// prompt and consume it.
	for i, entry := range s.routed {
		if promptContains(messages, entry.Match) {
			s.routed = append(s.routed[:i], s.routed[i+1:]...)
			return &entry, nil
		}
	}

	if len(s.sequential) == 0 {
		return nil, fmt.Errorf("scripted caller: no %s response left (call %d)", s.name, s.calls)
	}
	entry := s.sequential[0]
	s.sequential = s.sequential[1:]
	return &entry, nil
}

func promptContains(messages []llm.Message, marker string) bool {
	for _, m := range messages {
		if strings.Contains(m.Content, marker) {
			return true
		}
	}
	return false
}

// ScriptedCaller replaces the three upstream endpoints with scripted
// responses. Safe for the parallel A/B calls the debate rounds make and
// for concurrent tasks when routed entries are used.
type ScriptedCaller struct {
	mu   sync.Mutex
	meta endpointScript
	a    endpointScript
	b    endpointScript
}

// NewScriptedCaller creates an empty caller. Every unscripted call
// returns an error, which surfaces as a task failure.
func NewScriptedCaller() *ScriptedCaller {
	return &ScriptedCaller{
		meta: endpointScript{name: "meta"},
		a:    endpointScript{name: "A"},
		b:    endpointScript{name: "B"},
	}
}

// Meta queues a sequential meta response.
func (c *ScriptedCaller) Meta(content string) *ScriptedCaller {
	return c.add(&c.meta, ScriptEntry{Content: content})
}

// MetaRouted queues a meta response consumed by the first call whose
// prompt contains the marker.
func (c *ScriptedCaller) MetaRouted(marker, content string) *ScriptedCaller {
	return c.add(&c.meta, ScriptEntry{Match: marker, Content: content})
}

// A queues a sequential expert A response.
func (c *ScriptedCaller) A(content string) *ScriptedCaller {
	return c.add(&c.a, ScriptEntry{Content: content})
}

// B queues a sequential expert B response.
func (c *ScriptedCaller) B(content string) *ScriptedCaller {
	return c.add(&c.b, ScriptEntry{Content: content})
}

func (c *ScriptedCaller) add(script *endpointScript, entry ScriptEntry) *ScriptedCaller {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.Match != "" {
		script.routed = append(script.routed, entry)
	} else {
		script.sequential = append(script.sequential, entry)
	}
	return c
}

// MetaCalls reports how many meta calls were made so far.
func (c *ScriptedCaller) MetaCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta.calls
}

func (c *ScriptedCaller) CallMeta(_ context.Context, messages []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	return c.call(&c.meta, messages)
}

func (c *ScriptedCaller) CallA(_ context.Context, messages []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	return c.call(&c.a, messages)
}

func (c *ScriptedCaller) CallB(_ context.Context, messages []llm.Message, _ llm.ChatOptions) (*llm.ChatResult, error) {
	return c.call(&c.b, messages)
}

func (c *ScriptedCaller) call(script *endpointScript, messages []llm.Message) (*llm.ChatResult, error) {
	c.mu.Lock()
	entry, err := script.next(messages)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return &llm.ChatResult{
		Content: entry.Content,
		Tokens:  llm.TokenUsage{Prompt: 60, Completion: 40, Total: 100},
		Cost:    0.01,
		Model:   "scripted",
		Name:    "scripted",
	}, nil
}
