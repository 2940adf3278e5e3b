// Package config loads and saves borntrain run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvCheckpointDir = "BORNTRAIN_CHECKPOINT_DIR"
	EnvHistoryDB     = "BORNTRAIN_HISTORY_DB"
	EnvLogLevel      = "BORNTRAIN_LOG_LEVEL"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all borntrain configuration.
type Config struct {
	Train      TrainConfig      `yaml:"train"`
	Callbacks  CallbacksConfig  `yaml:"callbacks"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// TrainConfig configures the training run.
type TrainConfig struct {
	Epochs    int     `yaml:"epochs"`
	BatchSize int     `yaml:"batch_size"`
	LR        float32 `yaml:"lr"`
	Optimizer string  `yaml:"optimizer"` // sgd, adam
	Momentum  float32 `yaml:"momentum"`  // sgd only
	Samples   int     `yaml:"samples"`   // synthetic dataset size
	Features  int     `yaml:"features"`
	Classes   int     `yaml:"classes"`
	Hidden    int     `yaml:"hidden"`
	ValidFrac float64 `yaml:"valid_frac"`
	Seed      uint64  `yaml:"seed"`
}

// CallbacksConfig configures the training-loop callbacks.
//
// Enabled decides whether a callback is attached at all. Disabled is the
// runtime switch of an attached callback and can be flipped while training
// runs.
type CallbacksConfig struct {
	SkipFirstN          IntervalConfig `yaml:"skip_first_n"`
	GradientAccumulator IntervalConfig `yaml:"gradient_accumulator"`
	PrintEveryN         IntervalConfig `yaml:"print_every_n"`
	SaveEveryN          SaveConfig     `yaml:"save_every_n"`
	StopAfterN          IntervalConfig `yaml:"stop_after_n"`
	History             IntervalConfig `yaml:"history"`
}

// IntervalConfig configures a counter-based callback.
type IntervalConfig struct {
	Enabled       bool `yaml:"enabled"`
	NumIterations int  `yaml:"num_iterations"`
	Disabled      bool `yaml:"disabled"`
}

// SaveConfig configures the periodic checkpoint callback.
type SaveConfig struct {
	IntervalConfig `yaml:",inline"`
	SaveName       string `yaml:"save_name"` // empty: saved_every_{n}_iterations
}

// CheckpointConfig configures where models are written.
type CheckpointConfig struct {
	Dir       string `yaml:"dir"`
	ModelType string `yaml:"model_type"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Path string `yaml:"path"` // empty disables history
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`   // empty: stderr
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Train: TrainConfig{
			Epochs:    3,
			BatchSize: 8,
			LR:        0.05,
			Optimizer: "sgd",
			Momentum:  0.9,
			Samples:   512,
			Features:  4,
			Classes:   3,
			Hidden:    16,
			ValidFrac: 0.2,
			Seed:      42,
		},
		Callbacks: CallbacksConfig{
			SkipFirstN:          IntervalConfig{Enabled: false, NumIterations: 0},
			GradientAccumulator: IntervalConfig{Enabled: true, NumIterations: 4},
			PrintEveryN:         IntervalConfig{Enabled: true, NumIterations: 10},
			SaveEveryN:          SaveConfig{IntervalConfig: IntervalConfig{Enabled: true, NumIterations: 100}},
			StopAfterN:          IntervalConfig{Enabled: false, NumIterations: 100},
			History:             IntervalConfig{Enabled: true, NumIterations: 10},
		},
		Checkpoint: CheckpointConfig{
			Dir:       "checkpoints",
			ModelType: "Sequential",
		},
		History: HistoryConfig{
			Path: "borntrain.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
//
// A missing file yields the defaults. Environment overrides are applied
// last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	t := c.Train
	check(t.Epochs > 0, "train.epochs must be positive, got %d", t.Epochs)
	check(t.BatchSize > 0, "train.batch_size must be positive, got %d", t.BatchSize)
	check(t.LR > 0, "train.lr must be positive, got %g", t.LR)
	check(t.Optimizer == "sgd" || t.Optimizer == "adam", "train.optimizer must be sgd or adam, got %q", t.Optimizer)
	check(t.Samples > 0, "train.samples must be positive, got %d", t.Samples)
	check(t.Features > 0, "train.features must be positive, got %d", t.Features)
	check(t.Classes > 1, "train.classes must be at least 2, got %d", t.Classes)
	check(t.Hidden > 0, "train.hidden must be positive, got %d", t.Hidden)
	check(t.ValidFrac >= 0 && t.ValidFrac < 1, "train.valid_frac must be in [0, 1), got %g", t.ValidFrac)

	cb := c.Callbacks
	check(cb.SkipFirstN.NumIterations >= 0, "callbacks.skip_first_n.num_iterations must not be negative")
	for name, ic := range map[string]IntervalConfig{
		"gradient_accumulator": cb.GradientAccumulator,
		"print_every_n":        cb.PrintEveryN,
		"save_every_n":         cb.SaveEveryN.IntervalConfig,
		"stop_after_n":         cb.StopAfterN,
		"history":              cb.History,
	} {
		check(!ic.Enabled || ic.NumIterations > 0, "callbacks.%s.num_iterations must be positive, got %d", name, ic.NumIterations)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		check(false, "logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		check(false, "logging.format must be json or console, got %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv(EnvCheckpointDir); dir != "" {
		c.Checkpoint.Dir = dir
	}
	if path := os.Getenv(EnvHistoryDB); path != "" {
		c.History.Path = path
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
}
