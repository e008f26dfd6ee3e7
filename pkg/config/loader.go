package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// JexYAMLConfig represents the jex.yaml file structure. All sections are
// optional; anything unset falls back to built-in defaults.
type JexYAMLConfig struct {
	Endpoints *EndpointsConfig `yaml:"endpoints"`
	Limits    *LimitsConfig    `yaml:"limits"`
	Retention *RetentionConfig `yaml:"retention"`
}

// load is the internal loader.
func load(_ context.Context, configDir string) (*Config, error) {
	userCfg, err := loadJexYAML(configDir)
	if err != nil {
		return nil, NewLoadError("jex.yaml", err)
	}

	// Start with built-in defaults, then merge user values on top.
	endpoints := DefaultEndpoints()
	if userCfg.Endpoints != nil {
		if err := mergo.Merge(&endpoints, userCfg.Endpoints, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge endpoint config: %w", err)
		}
	}

	limits := DefaultLimits()
	if userCfg.Limits != nil {
		if err := mergo.Merge(limits, userCfg.Limits, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge limits config: %w", err)
		}
	}

	retention := DefaultRetention()
	if userCfg.Retention != nil {
		if err := mergo.Merge(retention, userCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	return &Config{
		configDir: configDir,
		Endpoints: endpoints,
		Limits:    limits,
		Retention: retention,
		Flags:     FlagsFromEnv(),
	}, nil
}

// loadJexYAML reads jex.yaml if present. A missing file is not an error:
// the built-in defaults cover everything.
func loadJexYAML(configDir string) (*JexYAMLConfig, error) {
	var cfg JexYAMLConfig

	path := filepath.Join(configDir, "jex.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax before
	// parsing, so secrets never live in the file itself.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}
