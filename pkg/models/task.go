// Package models defines the shared domain types: tasks, phase state,
// audit entries, progress events, and the final report document.
package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	StatusInquiring          TaskStatus = "inquiring"
	StatusReadyForProcessing TaskStatus = "ready_for_processing"
	StatusProcessing         TaskStatus = "processing"
	StatusCompleted          TaskStatus = "completed"
	StatusFailed             TaskStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusInquiring, StatusReadyForProcessing, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the task lifecycle has ended.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the persisted task record.
type Task struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Scene           string          `json:"scene"`
	UserInput       string          `json:"user_input"`
	Status          TaskStatus      `json:"status"`
	CollectedInfo   map[string]any  `json:"collected_info,omitempty"`
	ProcessingState json.RawMessage `json:"processing_state,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Cost            float64         `json:"cost"`
	Duration        int             `json:"duration"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// User is the persisted user record carrying the daily quota counters.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Tier               string    `json:"tier"`
	SubscriptionStatus string    `json:"subscription_status"`
	DailyQuota         int       `json:"daily_quota"`
	DailyUsed          int       `json:"daily_used"`
	TotalTasks         int       `json:"total_tasks"`
	TotalSpent         float64   `json:"total_spent"`
	CreatedAt          time.Time `json:"created_at"`
}

// CreateTaskResult is returned by task creation. The inquiry fields are set
// only on the inquiry branch; EstimatedTime only on the processing branch.
type CreateTaskResult struct {
	TaskID            string             `json:"task_id"`
	Status            TaskStatus         `json:"status"`
	NeedInquiry       bool               `json:"need_inquiry"`
	InquiryQuestions  []string           `json:"inquiry_questions,omitempty"`
	InquiryDetails    []InquiryQuestion  `json:"inquiry_details,omitempty"`
	InfoSufficiency   *float64           `json:"info_sufficiency,omitempty"`
	IntermediateState *IntermediateState `json:"intermediate_state,omitempty"`
	EstimatedTime     int                `json:"estimated_time,omitempty"`
}

// SubmitAnswersResult is returned after inquiry answers are processed.
type SubmitAnswersResult struct {
	TaskID        string         `json:"task_id"`
	Status        TaskStatus     `json:"status"`
	CollectedInfo map[string]any `json:"collected_info"`
	EstimatedTime int            `json:"estimated_time"`
}

// StartProcessingResult is returned by start-processing, including the
// idempotent responses for already-started and already-completed tasks.
type StartProcessingResult struct {
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
}

// TaskListResult is a paginated task listing.
type TaskListResult struct {
	Tasks   []*Task `json:"tasks"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
}

// IntermediateState is the whitelisted subset of phase state that the
// inquiry branch round-trips through the client. Identity fields are never
// part of it; they are rebuilt from the stored task row.
type IntermediateState struct {
	ProvidedInfo map[string]any `json:"provided_info"`
	MissingInfo  []string       `json:"missing_info"`
	AuditTrail   []AuditEntry   `json:"audit_trail"`
	TotalCost    float64        `json:"total_cost"`
}
