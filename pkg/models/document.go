package models

// ExecutiveSummary opens the final report.
type ExecutiveSummary struct {
	TLDR       string   `json:"tldr"`
	KeyActions []string `json:"key_actions"`
}

// CertainAdvice holds recommendations grounded in the known information.
type CertainAdvice struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Risks   []string `json:"risks"`
}

// HypotheticalAdvice is a conditional recommendation.
type HypotheticalAdvice struct {
	Condition  string `json:"condition"`
	Suggestion string `json:"suggestion"`
}

// Divergence is a disagreement between A and B worth surfacing to the user.
type Divergence struct {
	Issue         string `json:"issue"`
	AIAView       string `json:"ai_a_view"`
	AIAReason     string `json:"ai_a_reason"`
	AIBView       string `json:"ai_b_view"`
	AIBReason     string `json:"ai_b_reason"`
	OurSuggestion string `json:"our_suggestion"`
}

// Hooks invite the user to refine the report.
type Hooks struct {
	SatisfactionCheck string   `json:"satisfaction_check"`
	MissingInfoHint   []string `json:"missing_info_hint"`
}

// AuditStep is a condensed audit entry inside the report's audit summary.
type AuditStep struct {
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// AuditPhase groups condensed audit steps by phase.
type AuditPhase struct {
	Phase string      `json:"phase"`
	Steps []AuditStep `json:"steps"`
}

// AuditSummary condenses the audit trail for the final report.
type AuditSummary struct {
	Phases     []AuditPhase `json:"phases"`
	TotalSteps int          `json:"total_steps"`
}

// FinalDocument is the structured report produced by the integration phase.
type FinalDocument struct {
	ExecutiveSummary   ExecutiveSummary     `json:"executive_summary"`
	CertainAdvice      CertainAdvice        `json:"certain_advice"`
	HypotheticalAdvice []HypotheticalAdvice `json:"hypothetical_advice"`
	Divergences        []Divergence         `json:"divergences"`
	Hooks              Hooks                `json:"hooks"`
	AuditSummary       *AuditSummary        `json:"audit_summary,omitempty"`
}

// SummarizeAudit groups the trail by phase, truncating each reasoning to
// 100 bytes the same way the report renders it.
func SummarizeAudit(trail []AuditEntry) *AuditSummary {
	if len(trail) == 0 {
		return &AuditSummary{Phases: []AuditPhase{}, TotalSteps: 0}
	}

	order := make([]string, 0, 4)
	byPhase := make(map[string][]AuditStep)
	for _, e := range trail {
		if _, ok := byPhase[e.Phase]; !ok {
			order = append(order, e.Phase)
		}
		reasoning := e.Reasoning
		if len(reasoning) > 100 {
			reasoning = TruncateUTF8(reasoning, 100)
		}
		byPhase[e.Phase] = append(byPhase[e.Phase], AuditStep{
			Actor:     e.Actor,
			Action:    e.Action,
			Reasoning: reasoning,
		})
	}

	phases := make([]AuditPhase, 0, len(order))
	for _, p := range order {
		phases = append(phases, AuditPhase{Phase: p, Steps: byPhase[p]})
	}
	return &AuditSummary{Phases: phases, TotalSteps: len(trail)}
}
