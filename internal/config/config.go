// Package config holds the daemon's JSON-tagged configuration structs,
// in the shape of the teacher's pkg/common/config.go: plain structs with
// `json:"...,omitempty"` tags, no viper/cobra config framework.
package config

import (
	"os"

	"github.com/bytedance/sonic"

	"github.com/hpcgov/rtd/internal/rterrors"
)

// Config is the top-level daemon configuration.
type Config struct {
	Runtime RuntimeConfig `json:"runtime,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
	Debug   DebugConfig   `json:"debug,omitempty"`
}

// RuntimeConfig holds the RuntimeService / control-loop tuning knobs.
type RuntimeConfig struct {
	// Address is the bind address for the policy/report RPC surface.
	Address string `json:"address,omitempty"`
	// DefaultPeriodSeconds seeds the Waiter before the first policy arrives.
	DefaultPeriodSeconds float64 `json:"default_period_seconds,omitempty"`
	// MSRTablePath points at the JSON MSR description table (§6, opaque input).
	MSRTablePath string `json:"msr_table_path,omitempty"`
	// MinFrequencyHz / MaxFrequencyHz bound every control domain's output.
	MinFrequencyHz float64 `json:"min_frequency_hz,omitempty"`
	MaxFrequencyHz float64 `json:"max_frequency_hz,omitempty"`
	// FrequencyStepHz is the platform's smallest addressable frequency step,
	// used for the balancer's rounding discipline (spec §4.3 step 8).
	FrequencyStepHz float64 `json:"frequency_step_hz,omitempty"`
}

// LoggingConfig controls the zerolog-backed logger.
type LoggingConfig struct {
	Level string `json:"level,omitempty"`
}

// DebugConfig holds the debug-surface settings. cmd/rtd always serves
// the gin debug/health HTTP surface on Runtime.Address; Enabled only
// turns on the child-host tree registry behind it, and Address is not
// read by cmd/rtd.
type DebugConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Address string `json:"address,omitempty"`
}

// Load reads a JSON config file at path, falling back to Default when
// path is empty or the file does not exist. Unlike the teacher's
// common.LoadConfig (a disabled stub that ignores its filename argument),
// this actually parses the file: spec.md §1's daemon needs a real
// bootstrap config, not a permanently-default one.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, rterrors.Wrap(rterrors.Invalid, "config: failed to read "+path, err)
	}
	cfg := Default()
	if err := sonic.ConfigFastest.Unmarshal(data, cfg); err != nil {
		return nil, rterrors.Wrap(rterrors.Invalid, "config: failed to parse "+path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no config file is supplied.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Address:              ":8196",
			DefaultPeriodSeconds: 1.0,
			MinFrequencyHz:       1.0e9,
			MaxFrequencyHz:       3.0e9,
			FrequencyStepHz:      1.0e8,
		},
		Logging: LoggingConfig{Level: "info"},
		Debug:   DebugConfig{Enabled: false, Address: ":8197"},
	}
}
