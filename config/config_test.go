package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
core_api:
  base_url: http://core-api:8000
mqtt:
  broker: tcp://broker:1883
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT.Topic != "grid_function/mpc" {
		t.Errorf("topic %q", cfg.MQTT.Topic)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level %q", cfg.Logging.Level)
	}
	if cfg.MPC.LeadTime != 10*time.Minute {
		t.Errorf("lead time %v", cfg.MPC.LeadTime)
	}
	if cfg.Realtime.PollInterval != time.Second || cfg.Realtime.SecurityMargin != 0.5 {
		t.Errorf("realtime %+v", cfg.Realtime)
	}
	if cfg.Realtime.BatteryDebounce != 30*time.Second {
		t.Errorf("battery debounce %v", cfg.Realtime.BatteryDebounce)
	}
	if cfg.Thermal.Staleness != 24*time.Hour || cfg.Thermal.Weights.States != 1 {
		t.Errorf("thermal %+v", cfg.Thermal)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
logging:
  level: debug
realtime:
  poll_interval: 2s
  security_margin: 1.5
  hold_last_limit: true
thermal:
  staleness: 12h
  weights:
    states: 0.5
    heaters: 2
    external: 1
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level %q", cfg.Logging.Level)
	}
	rt := cfg.Realtime.ControllerConfig()
	if rt.PollInterval != 2*time.Second || rt.SecurityMargin != 1.5 || !rt.HoldLastLimit {
		t.Errorf("controller config %+v", rt)
	}
	if cfg.Thermal.Staleness != 12*time.Hour {
		t.Errorf("staleness %v", cfg.Thermal.Staleness)
	}
	w := cfg.Thermal.Weights.FitWeights()
	if w.States != 0.5 || w.Heaters != 2 || w.External != 1 {
		t.Errorf("weights %+v", w)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CLPU_LOGGING__LEVEL", "warn")
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.yaml", "mqtt:\n  broker: tcp://broker:1883\n")); err == nil {
		t.Fatal("expected a missing base_url error")
	}
	if _, err := Load(writeConfig(t, "config.yaml", minimalYAML+"logging:\n  level: loud\n")); err == nil {
		t.Fatal("expected an unknown level error")
	}
	if _, err := Load(writeConfig(t, "config.toml", "")); err == nil {
		t.Fatal("expected an unsupported format error")
	}
}
