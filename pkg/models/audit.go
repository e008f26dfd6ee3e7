package models

// Audit actors. Meta drives classification and planning; A and B are the
// collaborating endpoints; user marks actions taken on the user's behalf.
const (
	ActorMeta = "meta"
	ActorA    = "A"
	ActorB    = "B"
	ActorUser = "user"
)

// AuditEntry is one immutable record in a task's append-only audit trail.
// Step is the length of the trail before this entry was appended.
type AuditEntry struct {
	Step       int     `json:"step"`
	Phase      string  `json:"phase"`
	Actor      string  `json:"actor"`
	Action     string  `json:"action"`
	Input      string  `json:"input"`
	Output     string  `json:"output"`
	Reasoning  string  `json:"reasoning"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}
