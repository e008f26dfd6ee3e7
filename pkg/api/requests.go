package api

import "encoding/json"

// Body size guards, enforced before any service call.
const (
	maxUserInputBytes         = 16 << 10
	maxAnswerBytes            = 8 << 10
	maxIntermediateStateBytes = 64 << 10
)

// CreateTaskRequest is the HTTP request body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Scene     string `json:"scene"`
	UserInput string `json:"user_input"`
}

// SubmitAnswersRequest is the HTTP request body for
// POST /api/v1/tasks/:id/answers. Answers are keyed by question id.
// IntermediateState passes through untouched; the service validates it
// against the whitelist.
type SubmitAnswersRequest struct {
	Answers           map[string]string `json:"answers"`
	IntermediateState json.RawMessage   `json:"intermediate_state"`
}
