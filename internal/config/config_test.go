package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_RepositoryConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Failed to load repository config: %v", err)
	}
	if cfg.Bridge.Endpoint != "ws://127.0.0.1:28257" {
		t.Errorf("Unexpected endpoint %q", cfg.Bridge.Endpoint)
	}
	if len(cfg.Writers) != 3 {
		t.Errorf("Expected 3 writers, got %d", len(cfg.Writers))
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
bridge:
  endpoint: "wss://agent.local:9443/ws"
engine:
  allowed_methods: ["GET"]
  num_workers: 8
writers:
  - type: clickhouse
    enabled: true
    snapshot_interval: 5s
    clickhouse:
      host: ch
      port: 9000
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bridge.Endpoint != "wss://agent.local:9443/ws" {
		t.Errorf("Endpoint not overridden: %q", cfg.Bridge.Endpoint)
	}
	if cfg.Bridge.MaxReconnectDelay != "30s" || cfg.Engine.StaleAfter != "5m" {
		t.Errorf("Defaults lost: %+v %+v", cfg.Bridge, cfg.Engine)
	}
	if len(cfg.Engine.AllowedMethods) != 1 || cfg.Engine.AllowedMethods[0] != "GET" {
		t.Errorf("Unexpected allowed methods %v", cfg.Engine.AllowedMethods)
	}
	if cfg.Engine.NumWorkers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Engine.NumWorkers)
	}
	ch, ok := cfg.ClickHouse()
	if !ok || ch.Host != "ch" || ch.Port != 9000 {
		t.Errorf("ClickHouse() = %+v, %t", ch, ok)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "bridge: [unclosed")); err == nil {
		t.Error("Expected an error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"empty endpoint allowed", func(c *Config) { c.Bridge.Endpoint = "" }, ""},
		{"http endpoint", func(c *Config) { c.Bridge.Endpoint = "http://127.0.0.1:28257" }, "ws or wss"},
		{"bad delay", func(c *Config) { c.Bridge.MaxReconnectDelay = "soon" }, "bridge.max_reconnect_delay"},
		{"negative stale window", func(c *Config) { c.Engine.StaleAfter = "-1m" }, "engine.stale_after"},
		{"no workers", func(c *Config) { c.Engine.NumWorkers = 0 }, "num_workers"},
		{"no methods", func(c *Config) { c.Engine.AllowedMethods = nil }, "allowed_methods"},
		{"disabled writer not checked", func(c *Config) {
			c.Writers = []WriterDef{{Type: "gob", SnapshotInterval: "bogus"}}
		}, ""},
		{"enabled writer interval", func(c *Config) {
			c.Writers = []WriterDef{{Type: "gob", Enabled: true, SnapshotInterval: "bogus"}}
		}, "writers[0].snapshot_interval"},
		{"nats without subject", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.Subject = ""
		}, "nats.subject"},
		{"alerter interval", func(c *Config) {
			c.Alerter.Enabled = true
			c.Alerter.CheckInterval = ""
		}, "alerter.check_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
