// Package config loads the service configuration from a file with optional
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gridflex/clpu/core/realtime"
	"github.com/gridflex/clpu/core/thermal"
	"github.com/gridflex/clpu/infra/coreapi"
	"github.com/gridflex/clpu/infra/metrics"
	"github.com/gridflex/clpu/infra/mqtt"
)

// Config is the full service configuration.
type Config struct {
	MQTT     mqtt.Config    `koanf:"mqtt"`
	CoreAPI  coreapi.Config `koanf:"core_api"`
	Metrics  metrics.Config `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
	MPC      MPCConfig      `koanf:"mpc"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Thermal  ThermalConfig  `koanf:"thermal"`
}

// LoggingConfig tunes the zerolog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
}

// MPCConfig tunes the predictive half of a cycle.
type MPCConfig struct {
	// LeadTime is how long before the horizon start the solve job fires.
	LeadTime time.Duration `koanf:"lead_time"`
}

// RealtimeConfig tunes the curtailment controller.
type RealtimeConfig struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	SecurityMargin  float64       `koanf:"security_margin"`
	Debounce        time.Duration `koanf:"debounce"`
	BatteryDebounce time.Duration `koanf:"battery_debounce"`
	HoldLastLimit   bool          `koanf:"hold_last_limit"`
}

// ControllerConfig converts into the controller's own config type.
func (c RealtimeConfig) ControllerConfig() realtime.Config {
	return realtime.Config{
		PollInterval:    c.PollInterval,
		SecurityMargin:  c.SecurityMargin,
		Debounce:        c.Debounce,
		BatteryDebounce: c.BatteryDebounce,
		HoldLastLimit:   c.HoldLastLimit,
	}
}

// ThermalConfig tunes the thermal model learner.
type ThermalConfig struct {
	// ModelDir is where learned models are persisted.
	ModelDir string `koanf:"model_dir"`
	// Staleness is the maximum stored model age before a relearn.
	Staleness time.Duration `koanf:"staleness"`
	// TrainingWindow is how far back the learning data reaches.
	TrainingWindow time.Duration `koanf:"training_window"`
	// Weights are the regularization weights of the fit.
	Weights WeightsConfig `koanf:"weights"`
}

// WeightsConfig mirrors thermal.FitWeights.
type WeightsConfig struct {
	States   float64 `koanf:"states"`
	Heaters  float64 `koanf:"heaters"`
	External float64 `koanf:"external"`
}

// FitWeights converts into the learner's weight type.
func (w WeightsConfig) FitWeights() thermal.FitWeights {
	return thermal.FitWeights{States: w.States, Heaters: w.Heaters, External: w.External}
}

// SetDefaults applies the production defaults for everything unset.
func (c *Config) SetDefaults() {
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = mqtt.DefaultTopic
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "clpu-mpc"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.MPC.LeadTime <= 0 {
		c.MPC.LeadTime = 10 * time.Minute
	}
	rt := realtime.DefaultConfig()
	if c.Realtime.PollInterval <= 0 {
		c.Realtime.PollInterval = rt.PollInterval
	}
	if c.Realtime.SecurityMargin == 0 {
		c.Realtime.SecurityMargin = rt.SecurityMargin
	}
	if c.Realtime.Debounce <= 0 {
		c.Realtime.Debounce = rt.Debounce
	}
	if c.Realtime.BatteryDebounce <= 0 {
		c.Realtime.BatteryDebounce = rt.BatteryDebounce
	}
	if c.Thermal.ModelDir == "" {
		c.Thermal.ModelDir = "data/thermal_models"
	}
	if c.Thermal.Staleness <= 0 {
		c.Thermal.Staleness = 24 * time.Hour
	}
	if c.Thermal.TrainingWindow <= 0 {
		c.Thermal.TrainingWindow = 7 * 24 * time.Hour
	}
	if c.Thermal.Weights == (WeightsConfig{}) {
		c.Thermal.Weights = WeightsConfig{States: 1, Heaters: 1, External: 1}
	}
}

// Validate checks the mandatory fields.
func (c Config) Validate() error {
	if c.CoreAPI.BaseURL == "" {
		return fmt.Errorf("core_api.base_url is required")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}

// Load reads the configuration file at path. Environment variables with the
// CLPU_ prefix override file values, with __ as the section separator.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("CLPU_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "clpu_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
