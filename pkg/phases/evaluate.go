package phases

import (
	"context"
	"fmt"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

const evaluateTemperature = 0.3

// evaluation is the JSON contract of the evaluate call.
type evaluation struct {
	ProvidedInfo    map[string]any `json:"provided_info"`
	MissingInfo     []string       `json:"missing_critical_info"`
	InfoSufficiency float64        `json:"info_sufficiency"`
	NeedInquiry     bool           `json:"need_inquiry"`
	Reason          string         `json:"reason"`
}

// Evaluate asks meta whether the request carries enough information to
// proceed. An upstream failure or unparseable verdict degrades to the
// inquiry branch: asking the user again is always safe, guessing is not.
func Evaluate(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: evaluateSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(evaluateUserTemplate, state.Scene, state.UserInput)},
	}

	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: evaluateTemperature})
	if err != nil {
		if ctxDone(ctx, err) {
			return nil, err
		}
		return evaluateFallback(state, fmt.Sprintf("evaluation call failed: %v", err)), nil
	}

	var ev evaluation
	if err := parseJSON(res.Content, &ev); err != nil {
		d := evaluateFallback(state, fmt.Sprintf("evaluation response unparseable: %v", err))
		d.Audit[0].TokensUsed = res.Tokens.Total
		d.Audit[0].Cost = res.Cost
		d.AddCost = res.Cost
		return d, nil
	}

	if ev.ProvidedInfo == nil {
		ev.ProvidedInfo = map[string]any{}
	}
	if ev.MissingInfo == nil {
		ev.MissingInfo = []string{}
	}

	return &models.PhaseDelta{
		NeedInquiry:     models.Bool(ev.NeedInquiry),
		ProvidedInfo:    ev.ProvidedInfo,
		MissingInfo:     models.Strs(ev.MissingInfo),
		InfoSufficiency: models.Float(ev.InfoSufficiency),
		Audit: []models.AuditEntry{{
			Phase:      models.PhaseEvaluation,
			Actor:      models.ActorMeta,
			Action:     "evaluate",
			Input:      auditInput(state.UserInput),
			Output:     fmt.Sprintf("sufficiency=%.2f need_inquiry=%t missing=%d", ev.InfoSufficiency, ev.NeedInquiry, len(ev.MissingInfo)),
			Reasoning:  ev.Reason,
			TokensUsed: res.Tokens.Total,
			Cost:       res.Cost,
		}},
		AddCost: res.Cost,
	}, nil
}

// evaluateFallback is the conservative verdict when meta cannot be trusted:
// route to inquiry with a marker explaining why.
func evaluateFallback(state *models.PhaseState, reason string) *models.PhaseDelta {
	return &models.PhaseDelta{
		NeedInquiry:     models.Bool(true),
		MissingInfo:     models.Strs([]string{"automatic evaluation unavailable, additional detail helps"}),
		InfoSufficiency: models.Float(0),
		Error:           models.Str(reason),
		Audit: []models.AuditEntry{{
			Phase:     models.PhaseEvaluation,
			Actor:     models.ActorMeta,
			Action:    "evaluate",
			Input:     auditInput(state.UserInput),
			Output:    "fallback: routed to inquiry",
			Reasoning: reason,
		}},
	}
}
