package phases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/models"
)

// reviewState returns a state as it looks right after planning picked
// review mode.
func reviewState() *models.PhaseState {
	s := newState()
	s.CollaborationMode = models.ModeReview
	s.AIARole = "draft the plan"
	s.AIBRole = "review the plan"
	s.MaxRounds = 3
	return s
}

func TestReview_FirstRound(t *testing.T) {
	t.Run("acceptable draft stops after one round", func(t *testing.T) {
		mock := &mockCaller{
			a:    []mockResponse{{content: "the draft"}},
			b:    []mockResponse{{content: "minor nits only"}},
			meta: []mockResponse{{content: `{"needs_improvement": false, "severity": "low", "key_issues": [], "reason": "ready to ship"}`}},
		}

		state := reviewState()
		d, err := Review(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.ShouldStop)
		assert.Equal(t, StopQualityOK, s.StopReason)
		assert.Equal(t, 1, s.CurrentRound)
		assert.Equal(t, "the draft", s.AIAOutput)
		assert.Equal(t, "minor nits only", s.AIBOutput)

		require.Len(t, s.DebateRounds, 1)
		require.NotNil(t, s.DebateRounds[0].Improvement)
		assert.False(t, s.DebateRounds[0].Improvement.NeedsImprovement)

		// draft, review, quality check.
		require.Len(t, s.AuditTrail, 3)
		assert.Equal(t, "draft", s.AuditTrail[0].Action)
		assert.Equal(t, "review", s.AuditTrail[1].Action)
		assert.Equal(t, "quality_check", s.AuditTrail[2].Action)

		// Calls are sequential: the critique sees the draft.
		require.Len(t, mock.bCalls, 1)
		assert.Contains(t, mock.bCalls[0].messages[0].Content, "the draft")
		assert.Equal(t, 0.6, mock.bCalls[0].opts.Temperature)
		require.Len(t, mock.aCalls, 1)
		assert.Equal(t, 0.7, mock.aCalls[0].opts.Temperature)
		assert.Equal(t, 2000, mock.aCalls[0].opts.MaxTokens)
	})

	t.Run("flawed draft iterates", func(t *testing.T) {
		mock := &mockCaller{
			a:    []mockResponse{{content: "rough draft"}},
			b:    []mockResponse{{content: "missing the risks section"}},
			meta: []mockResponse{{content: `{"needs_improvement": true, "severity": "high", "key_issues": ["no risks"], "reason": "material gap"}`}},
		}

		state := reviewState()
		d, err := Review(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.False(t, s.ShouldStop)
		assert.Equal(t, 1, s.CurrentRound)
	})

	t.Run("unreadable quality verdict accepts the draft", func(t *testing.T) {
		mock := &mockCaller{
			a:    []mockResponse{{content: "draft"}},
			b:    []mockResponse{{content: "review"}},
			meta: []mockResponse{{content: "gate rambles"}},
		}

		state := reviewState()
		d, err := Review(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.ShouldStop)
		assert.Equal(t, StopQualityOK, s.StopReason)
	})

	t.Run("draft call failure aborts", func(t *testing.T) {
		mock := &mockCaller{a: []mockResponse{{err: errors.New("boom")}}}

		_, err := Review(context.Background(), mock, reviewState())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "draft")
	})
}

func TestReview_ReviseRounds(t *testing.T) {
	// redoState looks like the state after round 1 flagged issues.
	redoState := func() *models.PhaseState {
		s := reviewState()
		s.CurrentRound = 1
		s.AIAOutput = "rough draft"
		s.AIBOutput = "missing the risks section"
		s.DebateRounds = []models.DebateRound{{Round: 1, AContent: "rough draft", BContent: "missing the risks section"}}
		return s
	}

	t.Run("revision conditioned on prior draft and feedback", func(t *testing.T) {
		mock := &mockCaller{
			a:    []mockResponse{{content: "revised draft with risks"}},
			b:    []mockResponse{{content: "looks complete now"}},
			meta: []mockResponse{{content: `{"needs_improvement": false, "severity": "low", "key_issues": [], "reason": "fixed"}`}},
		}

		state := redoState()
		d, err := Review(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.ShouldStop)
		assert.Equal(t, StopQualityOK, s.StopReason)
		assert.Equal(t, 2, s.CurrentRound)
		assert.Equal(t, "revised draft with risks", s.AIAOutput)
		assert.Equal(t, "revise", s.AuditTrail[0].Action)

		revisePrompt := mock.aCalls[0].messages[0].Content
		assert.Contains(t, revisePrompt, "rough draft")
		assert.Contains(t, revisePrompt, "missing the risks section")
	})

	t.Run("round budget stops revisions", func(t *testing.T) {
		mock := &mockCaller{
			a:    []mockResponse{{content: "third draft"}},
			b:    []mockResponse{{content: "still imperfect"}},
			meta: []mockResponse{{content: `{"needs_improvement": true, "severity": "medium", "key_issues": ["tone"], "reason": "could be better"}`}},
		}

		state := redoState()
		state.CurrentRound = 2
		d, err := Review(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.ShouldStop)
		assert.Equal(t, StopMaxRounds, s.StopReason)
		assert.Equal(t, 3, s.CurrentRound)
	})
}
