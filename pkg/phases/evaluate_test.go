package phases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jexlab/jex/pkg/models"
)

func TestEvaluate(t *testing.T) {
	t.Run("sufficient info goes straight to planning", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{content: `{
			"provided_info": {"goal": "switch jobs", "timing": "now or next year"},
			"missing_critical_info": [],
			"info_sufficiency": 0.9,
			"need_inquiry": false,
			"reason": "the request is specific enough"
		}`}}}

		state := newState()
		d, err := Evaluate(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.False(t, s.NeedInquiry)
		assert.Equal(t, 0.9, s.InfoSufficiency)
		assert.Equal(t, "switch jobs", s.ProvidedInfo["goal"])
		assert.Empty(t, s.MissingInfo)

		require.Len(t, s.AuditTrail, 1)
		entry := s.AuditTrail[0]
		assert.Equal(t, models.PhaseEvaluation, entry.Phase)
		assert.Equal(t, models.ActorMeta, entry.Actor)
		assert.Equal(t, "evaluate", entry.Action)
		assert.Equal(t, "the request is specific enough", entry.Reasoning)
		assert.Equal(t, mockTokens, entry.TokensUsed)
		assert.Equal(t, mockCost, s.TotalCost)

		require.Len(t, mock.metaCalls, 1)
		assert.Equal(t, 0.3, mock.metaCalls[0].opts.Temperature)
	})

	t.Run("missing info routes to inquiry", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{content: `{
			"provided_info": {},
			"missing_critical_info": ["budget", "timeline"],
			"info_sufficiency": 0.3,
			"need_inquiry": true,
			"reason": "key constraints unknown"
		}`}}}

		state := newState()
		d, err := Evaluate(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.NeedInquiry)
		assert.Equal(t, []string{"budget", "timeline"}, s.MissingInfo)
	})

	t.Run("unparseable verdict falls back to inquiry", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{content: "I cannot answer in JSON today."}}}

		state := newState()
		d, err := Evaluate(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.NeedInquiry)
		assert.NotEmpty(t, s.MissingInfo)
		assert.Contains(t, s.Error, "unparseable")
		// The call happened, so its cost still counts.
		assert.Equal(t, mockCost, s.TotalCost)
		require.Len(t, s.AuditTrail, 1)
		assert.Equal(t, mockTokens, s.AuditTrail[0].TokensUsed)
	})

	t.Run("upstream failure falls back to inquiry", func(t *testing.T) {
		mock := &mockCaller{meta: []mockResponse{{err: errors.New("boom")}}}

		state := newState()
		d, err := Evaluate(context.Background(), mock, state)
		require.NoError(t, err)

		s := applied(state, d)
		assert.True(t, s.NeedInquiry)
		assert.Contains(t, s.Error, "evaluation call failed")
		assert.Zero(t, s.TotalCost)
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		mock := &mockCaller{meta: []mockResponse{{err: context.Canceled}}}

		d, err := Evaluate(ctx, mock, newState())
		require.Error(t, err)
		assert.Nil(t, d)
	})
}
