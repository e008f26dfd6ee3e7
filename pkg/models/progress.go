package models

import "time"

// ProgressItem is one sequenced progress event for a task. Seq values per
// task are dense and strictly increasing, starting at 1.
type ProgressItem struct {
	Seq       int64     `json:"seq"`
	Phase     string    `json:"phase"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
}

// CompletionEnvelope carries the final report to subscribers, including
// those that connect after the task finished.
type CompletionEnvelope struct {
	TaskID string         `json:"task_id"`
	Output *FinalDocument `json:"output"`
}
