package phases

import (
	"context"
	"fmt"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

const (
	planningTemperature = 0.4

	defaultMaxRounds = 3
	planMaxRoundsCap = 5
)

// Default roles used when planning fails. Debate between a rigor-first and
// a pragmatics-first expert works acceptably for almost any task.
const (
	defaultRoleA = "analyze from a depth and professional rigor angle"
	defaultRoleB = "analyze from a practical and operational angle"
)

// plan is the JSON contract of the planning call.
type plan struct {
	TaskType          string `json:"task_type"`
	CollaborationMode string `json:"collaboration_mode"`
	AIARole           string `json:"ai_a_role"`
	AIBRole           string `json:"ai_b_role"`
	MaxRounds         int    `json:"max_rounds"`
	Reasoning         string `json:"reasoning"`
}

// Planning asks meta to pick the collaboration mode, the expert roles and
// the round budget. Failures degrade to a three-round debate with stock
// roles; a bad plan still produces useful collaboration, no plan produces
// nothing.
func Planning(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	prompt := fmt.Sprintf(planningUserTemplate, state.Scene, state.UserInput, formatInfo(knownInfo(state)))
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: planningSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: planningTemperature})
	if err != nil {
		if ctxDone(ctx, err) {
			return nil, err
		}
		return planningFallback(state, fmt.Sprintf("planning call failed: %v", err), nil), nil
	}

	var p plan
	if err := parseJSON(res.Content, &p); err != nil {
		return planningFallback(state, fmt.Sprintf("plan unparseable: %v", err), res), nil
	}

	normalizePlan(&p)
	return &models.PhaseDelta{
		TaskType:          models.Str(p.TaskType),
		CollaborationMode: models.Str(p.CollaborationMode),
		AIARole:           models.Str(p.AIARole),
		AIBRole:           models.Str(p.AIBRole),
		MaxRounds:         models.Int(p.MaxRounds),
		CurrentRound:      models.Int(0),
		Audit: []models.AuditEntry{{
			Phase:      models.PhasePlanning,
			Actor:      models.ActorMeta,
			Action:     "plan",
			Input:      auditInput(state.UserInput),
			Output:     fmt.Sprintf("mode=%s max_rounds=%d type=%s", p.CollaborationMode, p.MaxRounds, p.TaskType),
			Reasoning:  p.Reasoning,
			TokensUsed: res.Tokens.Total,
			Cost:       res.Cost,
		}},
		AddCost: res.Cost,
	}, nil
}

// normalizePlan repairs out-of-range plan fields in place.
func normalizePlan(p *plan) {
	if p.CollaborationMode != models.ModeDebate && p.CollaborationMode != models.ModeReview {
		p.CollaborationMode = models.ModeDebate
	}
	if p.AIARole == "" {
		p.AIARole = defaultRoleA
	}
	if p.AIBRole == "" {
		p.AIBRole = defaultRoleB
	}
	if p.MaxRounds < 1 {
		p.MaxRounds = defaultMaxRounds
	}
	if p.MaxRounds > planMaxRoundsCap {
		p.MaxRounds = planMaxRoundsCap
	}
}

func planningFallback(state *models.PhaseState, reason string, res *llm.ChatResult) *models.PhaseDelta {
	d := &models.PhaseDelta{
		TaskType:          models.Str("general"),
		CollaborationMode: models.Str(models.ModeDebate),
		AIARole:           models.Str(defaultRoleA),
		AIBRole:           models.Str(defaultRoleB),
		MaxRounds:         models.Int(defaultMaxRounds),
		CurrentRound:      models.Int(0),
		Error:             models.Str(reason),
		Audit: []models.AuditEntry{{
			Phase:     models.PhasePlanning,
			Actor:     models.ActorMeta,
			Action:    "plan",
			Input:     auditInput(state.UserInput),
			Output:    "fallback: debate, 3 rounds",
			Reasoning: reason,
		}},
	}
	if res != nil {
		d.Audit[0].TokensUsed = res.Tokens.Total
		d.Audit[0].Cost = res.Cost
		d.AddCost = res.Cost
	}
	return d
}
