package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from configPath.
// This is the primary entry point for configuration loading, mirroring
// the teacher's config.Initialize pipeline shape.
//
// Steps performed:
//  1. Read the YAML file.
//  2. Expand environment variables ($VAR / ${VAR}).
//  3. Parse into a Config.
//  4. Merge over package defaults (user values override).
//  5. Validate, collecting every error.
func Initialize(_ context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)
	log.Info("loading configuration")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(configPath, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath))
		}
		return nil, NewLoadError(configPath, err)
	}

	data = ExpandEnv(data)

	var userCfg Config
	if err := yaml.Unmarshal(data, &userCfg); err != nil {
		return nil, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	merged, err := mergeOverYAML(Defaults(), &userCfg)
	if err != nil {
		return nil, NewLoadError(configPath, err)
	}

	if err := Validate(merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration loaded",
		"data_dir", merged.DataDir,
		"notifier_types", merged.Notifier.Types,
		"scheduler_cron", merged.Scheduler.Cron)

	return merged, nil
}
