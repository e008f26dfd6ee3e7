package config

import "time"

// RetentionConfig controls how long task rows are kept.
type RetentionConfig struct {
	// TaskRetentionDays is how many days to keep finished tasks
	// (completed or failed) before deleting them. Audit rows go with
	// them via the foreign key cascade.
	TaskRetentionDays int `yaml:"task_retention_days"`

	// AbandonedTTL is the maximum age of tasks stuck in inquiring or
	// ready_for_processing. Users who never answer the question sheet
	// leave these behind.
	AbandonedTTL time.Duration `yaml:"abandoned_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetention returns the built-in retention defaults.
func DefaultRetention() *RetentionConfig {
	return &RetentionConfig{
		TaskRetentionDays: 365,
		AbandonedTTL:      24 * time.Hour,
		CleanupInterval:   12 * time.Hour,
	}
}
