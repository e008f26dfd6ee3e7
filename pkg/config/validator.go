package config

import "fmt"

// Validator performs validation on a loaded Config.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given config.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates endpoints, limits, and flags.
func (v *Validator) ValidateAll() error {
	for _, ep := range []struct {
		role string
		cfg  EndpointConfig
	}{
		{RoleMeta, v.cfg.Endpoints.Meta},
		{RoleA, v.cfg.Endpoints.A},
		{RoleB, v.cfg.Endpoints.B},
	} {
		if err := validateEndpoint(ep.role, ep.cfg); err != nil {
			return err
		}
	}

	if err := validateLimits(v.cfg.Limits); err != nil {
		return err
	}
	return validateRetention(v.cfg.Retention)
}

func validateEndpoint(role string, ep EndpointConfig) error {
	if ep.Name == "" {
		return NewValidationError("endpoint", role, "name", ErrMissingRequiredField)
	}
	if ep.BaseURL == "" {
		return NewValidationError("endpoint", role, "base_url", ErrMissingRequiredField)
	}
	if ep.Model == "" {
		return NewValidationError("endpoint", role, "model", ErrMissingRequiredField)
	}
	if ep.InputPrice < 0 || ep.OutputPrice < 0 {
		return NewValidationError("endpoint", role, "price",
			fmt.Errorf("%w: prices must be non-negative", ErrInvalidValue))
	}
	return nil
}

func validateLimits(l *LimitsConfig) error {
	if l.HardRoundCap < 1 {
		return NewValidationError("limits", "limits", "hard_round_cap",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.RingCapacity < 1 {
		return NewValidationError("limits", "limits", "ring_capacity",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.MaxTrackedTasks < 1 {
		return NewValidationError("limits", "limits", "max_tracked_tasks",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.StateCostCeiling <= 0 {
		return NewValidationError("limits", "limits", "state_cost_ceiling",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if l.AIMessageMaxBytes < 1 {
		return NewValidationError("limits", "limits", "ai_message_max_bytes",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.CompletionTTL <= 0 || l.SubscriberWait <= 0 || l.LockTTL <= 0 {
		return NewValidationError("limits", "limits", "ttl",
			fmt.Errorf("%w: durations must be positive", ErrInvalidValue))
	}
	return nil
}

func validateRetention(r *RetentionConfig) error {
	if r == nil {
		return nil
	}
	if r.TaskRetentionDays < 1 {
		return NewValidationError("retention", "retention", "task_retention_days",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.AbandonedTTL <= 0 || r.CleanupInterval <= 0 {
		return NewValidationError("retention", "retention", "ttl",
			fmt.Errorf("%w: durations must be positive", ErrInvalidValue))
	}
	return nil
}
