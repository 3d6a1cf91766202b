// Package config holds the tool's runtime settings: evaluation
// parallelism, runner timeouts, grading knobs and the enabled target list.
// Settings load from a YAML file over defaults; a missing file simply
// means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	Eval    EvalConfig    `yaml:"eval"`
	Run     RunConfig     `yaml:"run"`
	Grade   GradeConfig   `yaml:"grade"`
	Targets TargetsConfig `yaml:"targets"`
}

// EvalConfig tunes the reference evaluator.
type EvalConfig struct {
	Parallelism int `yaml:"parallelism"` // records evaluated concurrently
}

// RunConfig tunes the conformance runners.
type RunConfig struct {
	Timeout string `yaml:"timeout"` // per-target budget, Go duration syntax
}

// GradeConfig tunes scoring and reporting.
type GradeConfig struct {
	FailureLimit int     `yaml:"failure_limit"` // diffs kept per target
	Epsilon      float64 `yaml:"epsilon"`       // numeric comparison tolerance
	OutputDir    string  `yaml:"output_dir"`    // reports and bundles land here
}

// TargetsConfig selects the execution substrates to grade.
type TargetsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Eval: EvalConfig{
			Parallelism: 8,
		},
		Run: RunConfig{
			Timeout: "60s",
		},
		Grade: GradeConfig{
			FailureLimit: 50,
			Epsilon:      1e-9,
			OutputDir:    "out",
		},
		Targets: TargetsConfig{
			Enabled: []string{"golang", "sqlite", "datalog"},
		},
	}
}

// Load reads configuration from a YAML file, layered over defaults. A
// missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over the file values.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("RULECAST_OUTPUT_DIR"); dir != "" {
		c.Grade.OutputDir = dir
	}
	if targets := os.Getenv("RULECAST_TARGETS"); targets != "" {
		c.Targets.Enabled = c.Targets.Enabled[:0]
		for _, t := range strings.Split(targets, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Targets.Enabled = append(c.Targets.Enabled, t)
			}
		}
	}
}

// RunTimeout returns the per-target budget as a duration, falling back to
// the default when the configured string does not parse.
func (c *Config) RunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Run.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Validate checks the configuration for values no run could work with.
func (c *Config) Validate() error {
	if c.Eval.Parallelism < 0 {
		return fmt.Errorf("invalid config: eval.parallelism must not be negative")
	}
	if c.Grade.FailureLimit < 0 {
		return fmt.Errorf("invalid config: grade.failure_limit must not be negative")
	}
	if c.Grade.Epsilon < 0 {
		return fmt.Errorf("invalid config: grade.epsilon must not be negative")
	}
	if len(c.Targets.Enabled) == 0 {
		return fmt.Errorf("invalid config: targets.enabled must name at least one target")
	}
	return nil
}
