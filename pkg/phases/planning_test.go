package phases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/models"
)

func TestPlanning(t *testing.T) {
	t.Run("review plan parsed", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{content: `{
			"task_type": "document",
			"collaboration_mode": "review",
			"ai_a_role": "draft the resignation letter",
			"ai_b_role": "review tone and completeness",
			"max_rounds": 2,
			"reasoning": "single deliverable, critique helps more than debate"
		}`}}}

		state := newState()
		d, err := Planning(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.Equal(t, models.ModeReview, s.CollaborationMode)
		assert.Equal(t, "document", s.TaskType)
		assert.Equal(t, 2, s.MaxRounds)
		assert.Equal(t, 0, s.CurrentRound)
		assert.False(t, s.ShouldStop)

		require.Len(t, mock.metaCalls, 1)
		assert.Equal(t, 0.4, mock.metaCalls[0].opts.Temperature)
	})

	t.Run("unknown mode defaults to debate", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{content: `{
			"task_type": "analysis",
			"collaboration_mode": "brainstorm",
			"ai_a_role": "r1",
			"ai_b_role": "r2",
			"max_rounds": 3,
			"reasoning": "r"
		}`}}}

		state := newState()
		d, err := Planning(context.Background(), mock, state)
		require.NoError(t, err)
		assert.Equal(t, models.ModeDebate, applied(state, d).CollaborationMode)
	})

	t.Run("round budget is clamped", func(t *testing.T) {
		tests := []struct {
			name string
			got  int
			want int
		}{
			{"zero becomes default", 0, 3},
			{"negative becomes default", -2, 3},
			{"oversized is capped", 9, 5},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := plan{CollaborationMode: models.ModeDebate, AIARole: "a", AIBRole: "b", MaxRounds: tt.got}
				normalizePlan(&p)
				assert.Equal(t, tt.want, p.MaxRounds)
			})
		}
	})

	t.Run("planning failure falls back to three-round debate", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{err: errors.New("boom")}}}

		state := newState()
		d, err := Planning(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.Equal(t, models.ModeDebate, s.CollaborationMode)
		assert.Equal(t, 3, s.MaxRounds)
		assert.NotEmpty(t, s.AIARole)
		assert.NotEmpty(t, s.AIBRole)
		assert.Contains(t, s.Error, "planning call failed")
	})

	t.Run("unparseable plan falls back with cost recorded", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{content: "no json"}}}

		state := newState()
		d, err := Planning(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.Equal(t, models.ModeDebate, s.CollaborationMode)
		assert.Equal(t, mockCost, s.TotalCost)
	})
}
