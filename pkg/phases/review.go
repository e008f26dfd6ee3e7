package phases

import (
	"context"
	"fmt"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

const (
	draftTemperature    = 0.7
	critiqueTemperature = 0.6

	draftMaxTokens = 2000
)

// Review runs one round of the review collaboration: A drafts (or revises
// against the previous critique), B critiques, meta decides whether the
// draft is good enough to ship. Unlike debate the calls are sequential;
// each depends on the previous output.
//
// A failed or unparseable quality verdict stops the loop: the draft exists
// and shipping it beats revising without a gate. Content call failures
// propagate.
func Review(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	round := state.CurrentRound + 1

	var (
		draftPrompt string
		draftAction string
	)
	if state.CurrentRound == 0 {
		draftPrompt = fmt.Sprintf(reviewDraftTemplate, state.AIARole, state.Scene, state.UserInput, formatInfo(knownInfo(state)))
		draftAction = "draft"
	} else {
		draftPrompt = fmt.Sprintf(reviewReviseTemplate, state.AIARole, state.Scene, state.UserInput, state.AIAOutput, state.AIBOutput)
		draftAction = "revise"
	}

	draftRes, err := mgr.CallA(ctx, []llm.Message{{Role: llm.RoleUser, Content: draftPrompt}},
		llm.ChatOptions{Temperature: draftTemperature, MaxTokens: draftMaxTokens})
	if err != nil {
		return nil, fmt.Errorf("review round %d draft: %w", round, err)
	}

	critiquePrompt := fmt.Sprintf(reviewCritiqueTemplate, state.AIBRole, state.Scene, state.UserInput, draftRes.Content)
	critiqueRes, err := mgr.CallB(ctx, []llm.Message{{Role: llm.RoleUser, Content: critiquePrompt}},
		llm.ChatOptions{Temperature: critiqueTemperature})
	if err != nil {
		return nil, fmt.Errorf("review round %d critique: %w", round, err)
	}

	check, checkRes := checkImprovement(ctx, mgr, draftRes.Content, critiqueRes.Content)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d := &models.PhaseDelta{
		AIAOutput:    models.Str(draftRes.Content),
		AIBOutput:    models.Str(critiqueRes.Content),
		CurrentRound: models.Int(round),
		AppendRounds: []models.DebateRound{{
			Round:       round,
			AContent:    draftRes.Content,
			BContent:    critiqueRes.Content,
			Improvement: check,
		}},
		Audit: []models.AuditEntry{
			positionEntry(models.ActorA, draftAction, draftPrompt, draftRes),
			positionEntry(models.ActorB, "review", critiquePrompt, critiqueRes),
			checkEntry("quality_check", fmt.Sprintf("needs_improvement=%t severity=%s", check.NeedsImprovement, check.Severity), check.Reason, checkRes),
		},
		AddCost: draftRes.Cost + critiqueRes.Cost + resultCost(checkRes),
	}

	switch {
	case !check.NeedsImprovement:
		d.ShouldStop = models.Bool(true)
		d.StopReason = models.Str(StopQualityOK)
	case round >= state.MaxRounds:
		d.ShouldStop = models.Bool(true)
		d.StopReason = models.Str(StopMaxRounds)
	}
	return d, nil
}

// checkImprovement asks meta whether the draft needs another round. Any
// failure is read as good enough; the loop must not spin on a dead gate.
func checkImprovement(ctx context.Context, mgr Caller, draft, critique string) (*models.ImprovementCheck, *llm.ChatResult) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: improvementSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(improvementUserTemplate, draft, critique)},
	}
	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: checkTemperature})
	if err != nil {
		return &models.ImprovementCheck{
			NeedsImprovement: false,
			Reason:           fmt.Sprintf("quality check failed, accepting draft: %v", err),
		}, nil
	}

	var check models.ImprovementCheck
	if err := parseJSON(res.Content, &check); err != nil {
		return &models.ImprovementCheck{
			NeedsImprovement: false,
			Reason:           fmt.Sprintf("quality verdict unparseable, accepting draft: %v", err),
		}, res
	}
	return &check, res
}
