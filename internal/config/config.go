// Package config provides unified configuration loading for rulesim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/store"
)

// DirName is the per-user directory holding config.yaml and the run store.
const DirName = ".rulesim"

// Config contains all rulesim configuration settings.
type Config struct {
	// Model selects the tree topology and its probabilities.
	Model dagtree.Params `json:"model" yaml:"model"`

	// Experiment controls the reference corpus, sweep and thresholds.
	Experiment experiment.Config `json:"experiment" yaml:"experiment"`

	// Logging contains settings for progress and trial logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store contains settings for the run database.
	Store StoreConfig `json:"store" yaml:"store"`
}

// LoggingConfig configures rulesim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug", or "trace".
	// "debug" enables per-trial traces in <store dir>/trials.jsonl.
	// "trace" additionally includes every mined rule set.
	Level string `json:"level" yaml:"level"`
}

// StoreConfig configures where runs are persisted.
type StoreConfig struct {
	// Dir holds rulesim.db. Supports ${VAR} syntax. Empty means ~/.rulesim.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Disabled skips saving runs.
	Disabled bool `json:"disabled" yaml:"disabled"`

	// MaxRuns prunes the oldest runs beyond this count after each save. 0 keeps all.
	MaxRuns int `json:"max_runs" yaml:"max_runs"`

	// MaxAgeDays prunes runs started more than this many days ago. 0 keeps all.
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`
}

// Default returns a Config with the reference study's settings.
func Default() *Config {
	return &Config{
		Model:      dagtree.DefaultParams(),
		Experiment: experiment.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the default config file location.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DirName, "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.rulesim/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys the file
// omits keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Dir = expandEnvVars(config.Store.Dir)

	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	if err := c.Experiment.Validate(); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}

	if c.Store.MaxRuns < 0 || c.Store.MaxAgeDays < 0 {
		return fmt.Errorf("store retention limits must be non-negative (max_runs=%d, max_age_days=%d)", c.Store.MaxRuns, c.Store.MaxAgeDays)
	}

	validLevels := map[string]bool{"warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// StoreDir resolves the run store directory.
func (c *Config) StoreDir() (string, error) {
	if c.Store.Dir != "" {
		return c.Store.Dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// Retention returns the store pruning policy, or nil when no limit is set.
func (c *Config) Retention() store.RetentionPolicy {
	return store.PolicyFor(c.Store.MaxRuns, time.Duration(c.Store.MaxAgeDays)*24*time.Hour)
}

// applyEnvOverrides applies environment variable overrides to the config.
// Malformed numeric values are ignored.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("RULESIM_TOPOLOGY"); v != "" {
		config.Model.Topology = dagtree.Topology(v)
	}
	if v := os.Getenv("RULESIM_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Model.Items = n
		}
	}
	if v := os.Getenv("RULESIM_WEIGHTED"); v != "" {
		config.Model.Weighted = v == "true" || v == "1"
	}

	if v := os.Getenv("RULESIM_REFERENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Experiment.Reference = n
		}
	}
	if v := os.Getenv("RULESIM_REPLICATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Experiment.Replications = n
		}
	}
	if v := os.Getenv("RULESIM_MIN_SUPPORT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Experiment.MinSupport = f
		}
	}
	if v := os.Getenv("RULESIM_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Experiment.MinConfidence = f
		}
	}
	if v := os.Getenv("RULESIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Experiment.Workers = n
		}
	}
	if v := os.Getenv("RULESIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Experiment.Seed = n
		}
	}

	if v := os.Getenv("RULESIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("RULESIM_STORE_DIR"); v != "" {
		config.Store.Dir = expandEnvVars(v)
	}
	if v := os.Getenv("RULESIM_MAX_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Store.MaxRuns = n
		}
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
