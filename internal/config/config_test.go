package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
gate:
  cooldown_minutes: 30
audit:
  default_device: desktop
  max_attempts: 3
  per_host_rps: 1.5
blocklist:
  patterns:
    - doubleclick.net
    - "*.analytics.example"
targets:
  source: static
  static:
    - identity: home
      url: https://example.com/
    - identity: pricing
      url: https://example.com/pricing
storage:
  provider: local
  local_dir: /tmp/reports
state:
  provider: local
  local_path: /tmp/state.json
pubsub:
  project_id: demo
  topic_id: audit-jobs
  subscription_id: audit-jobs-sub
db:
  dsn: postgres://localhost/beacon
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Errorf("auth = %+v, want enabled with key", cfg.Auth)
	}
	if got := cfg.Cooldown(); got != 30*time.Minute {
		t.Errorf("Cooldown() = %v, want 30m", got)
	}
	if cfg.Audit.MaxAttempts != 3 {
		t.Errorf("audit.max_attempts = %d, want 3", cfg.Audit.MaxAttempts)
	}
	if len(cfg.Blocklist.Patterns) != 2 {
		t.Errorf("blocklist.patterns = %v, want 2 entries", cfg.Blocklist.Patterns)
	}
	if len(cfg.Targets.Static) != 2 || cfg.Targets.Static[1].Identity != "pricing" {
		t.Errorf("targets.static = %+v", cfg.Targets.Static)
	}
	if cfg.Storage.Provider != "local" || cfg.Storage.LocalDir != "/tmp/reports" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	// Defaults survive partial files.
	if cfg.DB.Table != "audit_runs" {
		t.Errorf("db.table = %q, want default audit_runs", cfg.DB.Table)
	}
	if cfg.Audit.TimeoutSeconds != 90 {
		t.Errorf("audit.timeout_seconds = %d, want default 90", cfg.Audit.TimeoutSeconds)
	}
}

func TestLoadDefaultsRequireTargets(t *testing.T) {
	t.Parallel()

	_, err := Load("")
	if err == nil {
		t.Fatal("Load with no targets should fail validation")
	}
	if !strings.Contains(err.Error(), "targets.static") {
		t.Errorf("err = %v, want targets.static validation failure", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad device",
			mutate:  func(c *Config) { c.Audit.DefaultDevice = "tablet" },
			wantErr: "default_device",
		},
		{
			name:    "auth without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "api_key",
		},
		{
			name:    "gcs storage without bucket",
			mutate:  func(c *Config) { c.Storage.Provider = "gcs" },
			wantErr: "gcs_bucket",
		},
		{
			name:    "unknown target source",
			mutate:  func(c *Config) { c.Targets.Source = "csv" },
			wantErr: "targets.source",
		},
		{
			name: "remote without index url",
			mutate: func(c *Config) {
				c.Targets.Source = "remote"
				c.Targets.IndexURL = ""
			},
			wantErr: "index_url",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func validConfig() Config {
	cfg := Config{}
	cfg.Server.Port = 8080
	cfg.Gate.CooldownMinutes = 60
	cfg.Audit.DefaultDevice = "mobile"
	cfg.Audit.MaxAttempts = 2
	cfg.Targets.Source = "remote"
	cfg.Targets.IndexURL = "https://example.com/"
	return cfg
}
