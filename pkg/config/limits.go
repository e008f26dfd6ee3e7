package config

import "time"

// LimitsConfig contains the runtime bounds of the orchestrator.
type LimitsConfig struct {
	// HardRoundCap bounds the collaboration loop regardless of the
	// planner's max_rounds.
	HardRoundCap int `yaml:"hard_round_cap"`

	// StateCostCeiling is the maximum total_cost accepted inside a
	// client-echoed intermediate state.
	StateCostCeiling float64 `yaml:"state_cost_ceiling"`

	// RingCapacity is the per-task progress ring buffer size.
	RingCapacity int `yaml:"ring_capacity"`

	// MaxTrackedTasks is the global cap of tasks with live ring buffers.
	// On overflow the oldest 20% are evicted.
	MaxTrackedTasks int `yaml:"max_tracked_tasks"`

	// CompletionTTL is how long a completion envelope stays replayable
	// after the task finishes.
	CompletionTTL time.Duration `yaml:"completion_ttl"`

	// SubscriberWait is how long the background worker waits for a first
	// subscriber before proceeding.
	SubscriberWait time.Duration `yaml:"subscriber_wait"`

	// LockTTL is the task lock lease duration. Locks expire on their own
	// if the holder crashes.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// AIMessageMaxBytes bounds streamed A/B message content. Truncation
	// never splits a UTF-8 code point.
	AIMessageMaxBytes int `yaml:"ai_message_max_bytes"`

	// EstimatedTime is the seconds estimate returned on the processing
	// hand-off.
	EstimatedTime int `yaml:"estimated_time"`
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() *LimitsConfig {
	return &LimitsConfig{
		HardRoundCap:      10,
		StateCostCeiling:  1000,
		RingCapacity:      1000,
		MaxTrackedTasks:   10000,
		CompletionTTL:     300 * time.Second,
		SubscriberWait:    10 * time.Second,
		LockTTL:           3600 * time.Second,
		AIMessageMaxBytes: 500,
		EstimatedTime:     60,
	}
}
