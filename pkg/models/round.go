package models

// CollaborationMode selects how A and B work together in phase 3.
const (
	ModeDebate = "debate"
	ModeReview = "review"
)

// DivergenceCheck is meta's classification of round 1 in debate mode.
type DivergenceCheck struct {
	HasSignificantDivergence bool     `json:"has_significant_divergence"`
	DivergencePoints         []string `json:"divergence_points"`
	Reason                   string   `json:"reason"`
}

// NoveltyCheck is meta's classification of debate rounds after the first.
type NoveltyCheck struct {
	HasNovelty bool     `json:"has_novelty"`
	NewPoints  []string `json:"new_points"`
	Reason     string   `json:"reason"`
}

// ImprovementCheck is meta's quality gate in review mode.
type ImprovementCheck struct {
	NeedsImprovement bool     `json:"needs_improvement"`
	Severity         string   `json:"severity"`
	KeyIssues        []string `json:"key_issues"`
	Reason           string   `json:"reason"`
}

// DebateRound records one collaboration round. Exactly one of the check
// fields is set: Divergence on debate round 1, Novelty on later debate
// rounds, Improvement in review mode.
type DebateRound struct {
	Round       int               `json:"round"`
	AContent    string            `json:"a_content"`
	BContent    string            `json:"b_content"`
	Divergence  *DivergenceCheck  `json:"divergence,omitempty"`
	Novelty     *NoveltyCheck     `json:"novelty,omitempty"`
	Improvement *ImprovementCheck `json:"improvement,omitempty"`
}
