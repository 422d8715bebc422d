// Package config holds drillgate's runtime configuration: defaults, an
// optional TOML file and DRILLGATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/strugglelog"
)

var validate = validator.New()

// Config holds all drillgate configuration.
type Config struct {
	// DBPath overrides the resolved database location.
	DBPath string `toml:"db_path"`

	// Learner is the default learner ID for CLI commands.
	Learner string `toml:"learner" validate:"required"`

	// Phase is the learner's curriculum week.
	Phase int `toml:"phase" validate:"gte=1"`

	Log        LogConfig        `toml:"log"`
	Struggle   StruggleConfig   `toml:"struggle"`
	Hints      HintsConfig      `toml:"hints"`
	Validation ValidationConfig `toml:"validation"`
	Metrics    MetricsConfig    `toml:"metrics"`

	// Tiers replaces the default crawl/walk/run schedule when set.
	Tiers []budget.Tier `toml:"tier"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// StruggleConfig controls the struggle gate.
type StruggleConfig struct {
	Lockout time.Duration `toml:"lockout" validate:"gte=0"`

	// Thresholds names a preset: standard, reflective or strict.
	Thresholds string `toml:"thresholds" validate:"oneof=standard reflective strict custom"`

	// Custom is used when Thresholds is "custom".
	Custom strugglelog.Thresholds `toml:"custom"`
}

// HintsConfig controls hint disclosure.
type HintsConfig struct {
	// Cooldown is the minimum wait between two hints. Zero disables it.
	Cooldown time.Duration `toml:"cooldown" validate:"gte=0"`
}

// ValidationConfig controls step validation runs.
type ValidationConfig struct {
	Pause time.Duration `toml:"pause"`
}

// MetricsConfig controls the Prometheus emitter.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	learner := os.Getenv("USER")
	if learner == "" {
		learner = "local"
	}
	return Config{
		Learner: learner,
		Phase:   1,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Struggle: StruggleConfig{
			Lockout:    30 * time.Minute,
			Thresholds: "standard",
			Custom:     strugglelog.StandardThresholds,
		},
		Hints: HintsConfig{
			Cooldown: 0,
		},
		Validation: ValidationConfig{
			Pause: 300 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Namespace: "drillgate",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/drillgate/config.toml, falling back
// to ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "drillgate", "config.toml")
}

// Load builds the effective configuration: defaults, then the TOML file at
// path, then environment overrides. An empty path tries DefaultPath and
// tolerates its absence; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigFromEnv builds a Config from environment variables, falling back
// to defaults for unset values.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg)
	return cfg, err
}

// ApplyEnv overrides cfg with any DRILLGATE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("DRILLGATE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DRILLGATE_LEARNER"); v != "" {
		cfg.Learner = v
	}
	if v := os.Getenv("DRILLGATE_PHASE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DRILLGATE_PHASE: %w", err)
		}
		cfg.Phase = n
	}
	if v := os.Getenv("DRILLGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("DRILLGATE_THRESHOLDS"); v != "" {
		cfg.Struggle.Thresholds = strings.ToLower(v)
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"DRILLGATE_LOCKOUT", &cfg.Struggle.Lockout},
		{"DRILLGATE_HINT_COOLDOWN", &cfg.Hints.Cooldown},
		{"DRILLGATE_VALIDATION_PAUSE", &cfg.Validation.Pause},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = dur
	}
	return nil
}

// Validate checks field constraints, the custom thresholds and any tier
// override.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Struggle.Thresholds == "custom" {
		if err := c.Struggle.Custom.Validate(); err != nil {
			return fmt.Errorf("invalid config: struggle.custom: %w", err)
		}
	}
	if len(c.Tiers) > 0 {
		if err := c.Policy().Validate(); err != nil {
			return fmt.Errorf("invalid config: tiers: %w", err)
		}
	}
	return nil
}

// Thresholds resolves the struggle log thresholds in effect.
func (c Config) Thresholds() strugglelog.Thresholds {
	if c.Struggle.Thresholds == "custom" {
		return c.Struggle.Custom
	}
	t, err := strugglelog.Preset(c.Struggle.Thresholds)
	if err != nil {
		return strugglelog.StandardThresholds
	}
	return t
}

// Policy returns the configured tier schedule or the default one.
func (c Config) Policy() budget.Policy {
	if len(c.Tiers) == 0 {
		return budget.DefaultPolicy()
	}
	return budget.Policy{Tiers: c.Tiers}
}

// LogLevel maps the configured level to a slog.Level.
func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
