package phases

import (
	"context"
	"fmt"
	"sync"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

const (
	debateTemperature = 0.7
	checkTemperature  = 0.3
)

// Debate runs one round of the debate collaboration. The first round has
// both experts state positions in parallel and meta judge divergence; later
// rounds have each expert rebut the other's prior position and meta judge
// whether anything new surfaced. The delta carries the stop decision; the
// caller loops until ShouldStop.
//
// Check calls degrade conservatively: an unreadable divergence verdict
// keeps the debate going, an unreadable novelty verdict ends it. Content
// calls do not degrade; with both endpoints down there is no debate to
// have.
func Debate(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	if state.CurrentRound == 0 {
		return debateOpening(ctx, mgr, state)
	}
	return debateRebuttal(ctx, mgr, state)
}

func debateOpening(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	info := formatInfo(knownInfo(state))
	aPrompt := fmt.Sprintf(debateOpeningTemplate, state.AIARole, state.Scene, state.UserInput, info)
	bPrompt := fmt.Sprintf(debateOpeningTemplate, state.AIBRole, state.Scene, state.UserInput, info)

	aRes, bRes, err := callPair(ctx, mgr, aPrompt, bPrompt, llm.ChatOptions{Temperature: debateTemperature})
	if err != nil {
		return nil, fmt.Errorf("debate round 1: %w", err)
	}

	check, checkRes := checkDivergence(ctx, mgr, aRes.Content, bRes.Content)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d := &models.PhaseDelta{
		AIAOutput:    models.Str(aRes.Content),
		AIBOutput:    models.Str(bRes.Content),
		CurrentRound: models.Int(1),
		AppendRounds: []models.DebateRound{{
			Round:      1,
			AContent:   aRes.Content,
			BContent:   bRes.Content,
			Divergence: check,
		}},
		Audit: []models.AuditEntry{
			positionEntry(models.ActorA, "position", aPrompt, aRes),
			positionEntry(models.ActorB, "position", bPrompt, bRes),
			checkEntry("divergence_check", fmt.Sprintf("divergence=%t points=%d", check.HasSignificantDivergence, len(check.DivergencePoints)), check.Reason, checkRes),
		},
		AddCost: aRes.Cost + bRes.Cost + resultCost(checkRes),
	}

	if !check.HasSignificantDivergence {
		d.ShouldStop = models.Bool(true)
		d.StopReason = models.Str(StopConverged)
	}
	return d, nil
}

func debateRebuttal(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	round := state.CurrentRound + 1
	aPrompt := fmt.Sprintf(debateRebuttalTemplate, state.AIARole, state.Scene, state.UserInput, state.AIAOutput, state.AIBOutput)
	bPrompt := fmt.Sprintf(debateRebuttalTemplate, state.AIBRole, state.Scene, state.UserInput, state.AIBOutput, state.AIAOutput)

	aRes, bRes, err := callPair(ctx, mgr, aPrompt, bPrompt, llm.ChatOptions{Temperature: debateTemperature})
	if err != nil {
		return nil, fmt.Errorf("debate round %d: %w", round, err)
	}

	check, checkRes := checkNovelty(ctx, mgr, round, aRes.Content, bRes.Content)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d := &models.PhaseDelta{
		AIAOutput:    models.Str(aRes.Content),
		AIBOutput:    models.Str(bRes.Content),
		CurrentRound: models.Int(round),
		AppendRounds: []models.DebateRound{{
			Round:    round,
			AContent: aRes.Content,
			BContent: bRes.Content,
			Novelty:  check,
		}},
		Audit: []models.AuditEntry{
			positionEntry(models.ActorA, "rebuttal", aPrompt, aRes),
			positionEntry(models.ActorB, "rebuttal", bPrompt, bRes),
			checkEntry("novelty_check", fmt.Sprintf("novelty=%t points=%d", check.HasNovelty, len(check.NewPoints)), check.Reason, checkRes),
		},
		AddCost: aRes.Cost + bRes.Cost + resultCost(checkRes),
	}

	switch {
	case !check.HasNovelty:
		d.ShouldStop = models.Bool(true)
		d.StopReason = models.Str(StopNoNovelty)
	case round >= state.MaxRounds:
		d.ShouldStop = models.Bool(true)
		d.StopReason = models.Str(StopMaxRounds)
	}
	return d, nil
}

// callPair runs the A and B calls in parallel and waits for both.
func callPair(ctx context.Context, mgr Caller, aPrompt, bPrompt string, opts llm.ChatOptions) (aRes, bRes *llm.ChatResult, err error) {
	var (
		wg         sync.WaitGroup
		aErr, bErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		aRes, aErr = mgr.CallA(ctx, []llm.Message{{Role: llm.RoleUser, Content: aPrompt}}, opts)
	}()
	go func() {
		defer wg.Done()
		bRes, bErr = mgr.CallB(ctx, []llm.Message{{Role: llm.RoleUser, Content: bPrompt}}, opts)
	}()
	wg.Wait()

	if aErr != nil {
		return nil, nil, fmt.Errorf("expert A: %w", aErr)
	}
	if bErr != nil {
		return nil, nil, fmt.Errorf("expert B: %w", bErr)
	}
	return aRes, bRes, nil
}

// checkDivergence asks meta whether the round 1 positions diverge. Any
// failure is read as divergence: one more round costs tokens, a wrongly
// collapsed debate costs the answer.
func checkDivergence(ctx context.Context, mgr Caller, aContent, bContent string) (*models.DivergenceCheck, *llm.ChatResult) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: divergenceSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(divergenceUserTemplate, aContent, bContent)},
	}
	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: checkTemperature})
	if err != nil {
		return &models.DivergenceCheck{
			HasSignificantDivergence: true,
			Reason:                   fmt.Sprintf("divergence check failed, assuming divergence: %v", err),
		}, nil
	}

	var check models.DivergenceCheck
	if err := parseJSON(res.Content, &check); err != nil {
		return &models.DivergenceCheck{
			HasSignificantDivergence: true,
			Reason:                   fmt.Sprintf("divergence verdict unparseable, assuming divergence: %v", err),
		}, res
	}
	return &check, res
}

// checkNovelty asks meta whether the latest round added new points. Any
// failure is read as no novelty: with the referee gone, stopping beats
// looping blind.
func checkNovelty(ctx context.Context, mgr Caller, round int, aContent, bContent string) (*models.NoveltyCheck, *llm.ChatResult) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: divergenceSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(noveltyUserTemplate, round, aContent, bContent)},
	}
	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: checkTemperature})
	if err != nil {
		return &models.NoveltyCheck{
			HasNovelty: false,
			Reason:     fmt.Sprintf("novelty check failed, assuming none: %v", err),
		}, nil
	}

	var check models.NoveltyCheck
	if err := parseJSON(res.Content, &check); err != nil {
		return &models.NoveltyCheck{
			HasNovelty: false,
			Reason:     fmt.Sprintf("novelty verdict unparseable, assuming none: %v", err),
		}, res
	}
	return &check, res
}

func positionEntry(actor, action, prompt string, res *llm.ChatResult) models.AuditEntry {
	return models.AuditEntry{
		Phase:      models.PhaseCollaboration,
		Actor:      actor,
		Action:     action,
		Input:      auditInput(prompt),
		Output:     auditInput(res.Content),
		TokensUsed: res.Tokens.Total,
		Cost:       res.Cost,
	}
}

func checkEntry(action, output, reasoning string, res *llm.ChatResult) models.AuditEntry {
	e := models.AuditEntry{
		Phase:     models.PhaseCollaboration,
		Actor:     models.ActorMeta,
		Action:    action,
		Output:    output,
		Reasoning: reasoning,
	}
	if res != nil {
		e.TokensUsed = res.Tokens.Total
		e.Cost = res.Cost
	}
	return e
}

func resultCost(res *llm.ChatResult) float64 {
	if res == nil {
		return 0
	}
	return res.Cost
}
