package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

const (
	integrateTemperature = 0.5
	integrateMaxTokens   = 3000

	// roundExcerptLimit caps each side of a round in the integration
	// context, in bytes. The final outputs go in verbatim; old rounds only
	// need enough text to show how the positions moved.
	roundExcerptLimit = 300
)

// Integrate asks meta to merge the collaboration into the final report and
// attaches the condensed audit trail. When meta cannot produce a readable
// document the phase falls back to a wrapper around the experts' raw
// outputs; the user gets their answer either way.
func Integrate(ctx context.Context, mgr Caller, state *models.PhaseState) (*models.PhaseDelta, error) {
	prompt := fmt.Sprintf(integrateUserTemplate,
		state.Scene,
		state.UserInput,
		formatInfo(knownInfo(state)),
		roundsSummary(state.DebateRounds),
		state.AIAOutput,
		state.AIBOutput,
	)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: integrateSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	res, err := mgr.CallMeta(ctx, messages, llm.ChatOptions{Temperature: integrateTemperature, MaxTokens: integrateMaxTokens})
	if err != nil {
		if ctxDone(ctx, err) {
			return nil, err
		}
		return integrateFallback(state, fmt.Sprintf("integration call failed: %v", err), nil), nil
	}

	var doc models.FinalDocument
	if err := parseJSON(res.Content, &doc); err != nil {
		return integrateFallback(state, fmt.Sprintf("final document unparseable: %v", err), res), nil
	}

	entry := models.AuditEntry{
		Phase:      models.PhaseIntegration,
		Actor:      models.ActorMeta,
		Action:     "integrate",
		Input:      auditInput(prompt),
		Output:     fmt.Sprintf("final document, %d divergences surfaced", len(doc.Divergences)),
		TokensUsed: res.Tokens.Total,
		Cost:       res.Cost,
	}
	doc.AuditSummary = models.SummarizeAudit(appendEntry(state.AuditTrail, entry))

	return &models.PhaseDelta{
		FinalOutput: &doc,
		Audit:       []models.AuditEntry{entry},
		AddCost:     res.Cost,
	}, nil
}

// roundsSummary renders the recorded rounds as excerpts for the
// integration prompt.
func roundsSummary(rounds []models.DebateRound) string {
	if len(rounds) == 0 {
		return "(single pass, no recorded rounds)"
	}
	var sb strings.Builder
	for _, r := range rounds {
		fmt.Fprintf(&sb, "Round %d:\n", r.Round)
		fmt.Fprintf(&sb, "A: %s\n", models.TruncateUTF8(r.AContent, roundExcerptLimit))
		fmt.Fprintf(&sb, "B: %s\n", models.TruncateUTF8(r.BContent, roundExcerptLimit))
		switch {
		case r.Divergence != nil:
			fmt.Fprintf(&sb, "Referee: divergence=%t (%s)\n", r.Divergence.HasSignificantDivergence, r.Divergence.Reason)
		case r.Novelty != nil:
			fmt.Fprintf(&sb, "Referee: novelty=%t (%s)\n", r.Novelty.HasNovelty, r.Novelty.Reason)
		case r.Improvement != nil:
			fmt.Fprintf(&sb, "Gate: needs_improvement=%t (%s)\n", r.Improvement.NeedsImprovement, r.Improvement.Reason)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// integrateFallback wraps the raw expert outputs into a document shell so
// the task still completes with the content that exists.
func integrateFallback(state *models.PhaseState, reason string, res *llm.ChatResult) *models.PhaseDelta {
	entry := models.AuditEntry{
		Phase:     models.PhaseIntegration,
		Actor:     models.ActorMeta,
		Action:    "integrate",
		Input:     auditInput(state.UserInput),
		Output:    "fallback: raw expert outputs",
		Reasoning: reason,
	}
	if res != nil {
		entry.TokensUsed = res.Tokens.Total
		entry.Cost = res.Cost
	}

	doc := &models.FinalDocument{
		ExecutiveSummary: models.ExecutiveSummary{
			TLDR:       "Automatic integration failed; the experts' final outputs are included below unchanged.",
			KeyActions: []string{},
		},
		CertainAdvice: models.CertainAdvice{
			Title:   "Expert outputs",
			Content: fmt.Sprintf("Expert A:\n%s\n\nExpert B:\n%s", state.AIAOutput, state.AIBOutput),
			Risks:   []string{},
		},
		HypotheticalAdvice: []models.HypotheticalAdvice{},
		Divergences:        []models.Divergence{},
		Hooks: models.Hooks{
			SatisfactionCheck: "Does this answer your question?",
			MissingInfoHint:   []string{},
		},
		AuditSummary: models.SummarizeAudit(appendEntry(state.AuditTrail, entry)),
	}

	d := &models.PhaseDelta{
		FinalOutput: doc,
		Error:       models.Str(reason),
		Audit:       []models.AuditEntry{entry},
	}
	if res != nil {
		d.AddCost = res.Cost
	}
	return d
}

// appendEntry copies the trail and appends one entry with its step set,
// leaving the state's own trail untouched.
func appendEntry(trail []models.AuditEntry, entry models.AuditEntry) []models.AuditEntry {
	out := make([]models.AuditEntry, 0, len(trail)+1)
	out = append(out, trail...)
	entry.Step = len(out)
	return append(out, entry)
}
