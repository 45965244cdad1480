package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Gateway.Port != 9090 {
		t.Errorf("expected default port 9090, got %d", cfg.Gateway.Port)
	}
	if cfg.Scheduler.DefaultConcurrency != 1 {
		t.Errorf("expected default concurrency 1, got %d", cfg.Scheduler.DefaultConcurrency)
	}
	if cfg.Replay.DriftThreshold != 100 {
		t.Errorf("expected drift threshold 100, got %f", cfg.Replay.DriftThreshold)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must fall back to defaults: %v", err)
	}
	if cfg.Version != "1.0" {
		t.Errorf("expected default version, got %q", cfg.Version)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
version: "1.0"
gateway:
  host: 0.0.0.0
  port: 8181
  auth_token: secret
scheduler:
  default_concurrency: 2
  role_concurrency:
    pitch: 4
replay:
  schedule: "0 4 * * *"
  drift_threshold: 90
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gateway.Port != 8181 || cfg.Gateway.AuthToken != "secret" {
		t.Errorf("gateway not loaded: %+v", cfg.Gateway)
	}
	if cfg.Scheduler.DefaultConcurrency != 2 || cfg.Scheduler.RoleConcurrency["pitch"] != 4 {
		t.Errorf("scheduler not loaded: %+v", cfg.Scheduler)
	}
	if cfg.Replay.DriftThreshold != 90 {
		t.Errorf("replay not loaded: %+v", cfg.Replay)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging not loaded: %+v", cfg.Logging)
	}
	// Untouched sections keep their defaults.
	if cfg.Store.Path == "" {
		t.Error("store defaults lost on partial config")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("AUTOPILOT_TEST_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "gateway:\n  port: 9090\n  auth_token: ${AUTOPILOT_TEST_TOKEN}\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gateway.AuthToken != "from-env" {
		t.Errorf("expected env expansion, got %q", cfg.Gateway.AuthToken)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Gateway.Port = 7070
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Gateway.Port != 7070 {
		t.Errorf("expected port 7070 after round trip, got %d", loaded.Gateway.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing gateway", func(c *Config) { c.Gateway = nil }, true},
		{"port too low", func(c *Config) { c.Gateway.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Gateway.Port = 70000 }, true},
		{"missing store path", func(c *Config) { c.Store.Path = "" }, true},
		{"negative concurrency", func(c *Config) { c.Scheduler.DefaultConcurrency = -1 }, true},
		{"zero role concurrency", func(c *Config) {
			c.Scheduler.RoleConcurrency = map[string]int{"pitch": 0}
		}, true},
		{"drift threshold over 100", func(c *Config) { c.Replay.DriftThreshold = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
