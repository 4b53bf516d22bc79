package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON or invalid values return an error.
func Load(globalPath, projectPath string) (*TaskflowConfig, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskflow/config.json
// Project: .taskflow/config.json (relative to cwd)
func LoadDefault() (*TaskflowConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	return Load(GlobalPath(homeDir), ProjectPath())
}

// GlobalPath is the global config file under homeDir.
func GlobalPath(homeDir string) string {
	return filepath.Join(homeDir, ".taskflow", "config.json")
}

// ProjectPath is the project config file relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".taskflow", "config.json")
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Fields present in the file replace the base values; functions are merged
// by name. Missing files are silently skipped.
func mergeConfigFile(base *TaskflowConfig, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Decoding onto base keeps every field the file leaves out and adds
	// function entries to the existing map.
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
