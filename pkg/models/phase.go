package models

// Canonical phase names. They appear in audit entries, progress events and
// the progress calculator, so every package spells them the same way.
const (
	PhaseEvaluation    = "evaluation"
	PhaseInquiry       = "inquiry"
	PhasePlanning      = "planning"
	PhaseCollaboration = "collaboration"
	PhaseIntegration   = "integration"
	PhaseFinalization  = "finalization"
)
