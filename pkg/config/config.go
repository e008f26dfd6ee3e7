// Package config loads and validates the orchestrator configuration:
// the three upstream endpoints with their pricing, runtime limits, and the
// feature flags read from the environment.
package config

import (
	"context"
	"fmt"
	"log/slog"
)

// Config is the fully resolved configuration, ready for use.
type Config struct {
	configDir string

	Endpoints EndpointsConfig
	Limits    *LimitsConfig
	Retention *RetentionConfig
	Flags     FlagsConfig
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load jex.yaml from configDir (optional; built-in defaults otherwise)
//  2. Expand environment variables in the YAML
//  3. Merge user values over built-in defaults
//  4. Read feature flags from the environment
//  5. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"meta", cfg.Endpoints.Meta.Name,
		"a", cfg.Endpoints.A.Name,
		"b", cfg.Endpoints.B.Name,
		"client_version", cfg.Flags.ClientVersion,
		"redis_lock", cfg.Flags.UseRedisLock,
		"redis_cache", cfg.Flags.UseRedisCache)

	return cfg, nil
}

// validate performs validation on loaded configuration.
func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}
