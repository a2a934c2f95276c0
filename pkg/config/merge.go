package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeOverYAML merges user-provided YAML bytes over the given defaults,
// non-zero user fields taking precedence, following the teacher's
// dario.cat/mergo queue-config-merge pattern in pkg/config/loader.go.
func mergeOverYAML(defaults *Config, yamlTarget *Config) (*Config, error) {
	merged := *defaults
	if err := mergo.Merge(&merged, yamlTarget, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge configuration: %w", err)
	}
	return &merged, nil
}
