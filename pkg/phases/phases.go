// Package phases implements the phase functions of the collaboration
// pipeline: evaluation, inquiry, planning, debate/review collaboration and
// integration. Each phase is a pure function over the shared state: it
// reads *models.PhaseState, talks to the upstream endpoints and returns a
// *models.PhaseDelta describing exactly what changed. Phases never mutate
// the state they are handed.
//
// Upstream failures and unparseable model output never abort the pipeline;
// each phase degrades to a documented conservative default and records the
// problem in the audit trail. Only context cancellation propagates as an
// error.
package phases

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/models"
)

// Caller is the slice of the endpoint manager the phases need. Satisfied
// by *llm.Manager; tests substitute a scripted fake.
type Caller interface {
	CallMeta(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error)
	CallA(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error)
	CallB(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResult, error)
}

// Stop reasons recorded on the state when a collaboration loop ends.
const (
	StopConverged = "converged"
	StopNoNovelty = "no novelty / converged"
	StopMaxRounds = "max rounds reached"
	StopQualityOK = "quality acceptable"
)

// auditInputLimit caps the input summary stored on audit entries, in bytes.
const auditInputLimit = 200

// ctxDone reports whether err should abort the phase instead of degrading
// to the phase's fallback. Cancellation belongs to the caller, not to the
// audit trail.
func ctxDone(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

// formatInfo renders a provided/collected info map as stable "key: value"
// lines for prompt context. Keys are sorted so prompts are deterministic.
func formatInfo(info map[string]any) string {
	if len(info) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("- ")
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(fmt.Sprintf("%v", info[k]))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatList renders a string slice as bullet lines.
func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// knownInfo merges provided and collected info for prompt context. Collected
// answers win over the initial extraction on key collisions.
func knownInfo(state *models.PhaseState) map[string]any {
	merged := make(map[string]any, len(state.ProvidedInfo)+len(state.CollectedInfo))
	for k, v := range state.ProvidedInfo {
		merged[k] = v
	}
	for k, v := range state.CollectedInfo {
		merged[k] = v
	}
	return merged
}

// auditInput truncates a prompt input for the audit trail.
func auditInput(s string) string {
	return models.TruncateUTF8(s, auditInputLimit)
}
