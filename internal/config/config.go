// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gate      GateConfig      `mapstructure:"gate"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Blocklist BlocklistConfig `mapstructure:"blocklist"`
	Targets   TargetsConfig   `mapstructure:"targets"`
	Storage   StorageConfig   `mapstructure:"storage"`
	State     StateConfig     `mapstructure:"state"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GateConfig governs the debounce gate.
type GateConfig struct {
	CooldownMinutes int `mapstructure:"cooldown_minutes"`
}

// AuditConfig governs page audit execution.
type AuditConfig struct {
	DefaultDevice  string  `mapstructure:"default_device"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	UserAgent      string  `mapstructure:"user_agent"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// BlocklistConfig lists third-party host patterns. A non-empty list
// enables Blocked-mode fan-out.
type BlocklistConfig struct {
	Patterns []string `mapstructure:"patterns"`
}

// TargetsConfig selects and parameterizes the target catalog source.
type TargetsConfig struct {
	Source   string         `mapstructure:"source"`
	Static   []audit.Target `mapstructure:"static"`
	IndexURL string         `mapstructure:"index_url"`
	MaxPages int            `mapstructure:"max_pages"`
}

// StorageConfig sets provider, paths, and content types for report
// artifact persistence.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	LocalDir    string `mapstructure:"local_dir"`
	ContentType string `mapstructure:"content_type"`
}

// StateConfig locates the debounce event state table.
type StateConfig struct {
	Provider  string `mapstructure:"provider"`
	Object    string `mapstructure:"object"`
	LocalPath string `mapstructure:"local_path"`
}

// PubSubConfig holds metadata for the dispatch topic and subscription.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// DBConfig controls access to the analytical result store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path loads
// defaults plus BEACON_* environment overrides only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("gate.cooldown_minutes", 60)
	v.SetDefault("audit.default_device", "mobile")
	v.SetDefault("audit.max_attempts", 2)
	v.SetDefault("audit.nav_timeout_seconds", 45)
	v.SetDefault("audit.max_parallel", 1)
	v.SetDefault("audit.user_agent", "beacon-audit/0.1")
	v.SetDefault("audit.per_host_rps", 0.5)
	v.SetDefault("audit.timeout_seconds", 90)
	v.SetDefault("targets.source", "static")
	v.SetDefault("targets.max_pages", 100)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("state.provider", "memory")
	v.SetDefault("state.object", "event-state.json")
	v.SetDefault("db.table", "audit_runs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Gate.CooldownMinutes <= 0 {
		return fmt.Errorf("gate.cooldown_minutes must be > 0")
	}
	if c.Audit.MaxAttempts <= 0 {
		return fmt.Errorf("audit.max_attempts must be > 0")
	}
	switch c.Audit.DefaultDevice {
	case string(audit.DeviceMobile), string(audit.DeviceDesktop):
	default:
		return fmt.Errorf("audit.default_device must be mobile or desktop")
	}
	switch c.Targets.Source {
	case "static":
		if len(c.Targets.Static) == 0 {
			return fmt.Errorf("targets.static must not be empty when targets.source is static")
		}
	case "remote":
		if c.Targets.IndexURL == "" {
			return fmt.Errorf("targets.index_url must be set when targets.source is remote")
		}
	default:
		return fmt.Errorf("unknown targets.source %q", c.Targets.Source)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.State.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when state.provider is gcs")
	}
	return nil
}

// Cooldown returns the gate cooldown window as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Gate.CooldownMinutes) * time.Minute
}

// AuditTimeout returns the per-audit deadline as a duration.
func (c Config) AuditTimeout() time.Duration {
	return time.Duration(c.Audit.TimeoutSeconds) * time.Second
}

// NavTimeout returns the navigation deadline as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Audit.NavTimeoutSec) * time.Second
}

// DefaultDevice returns the configured default form factor.
func (c Config) DefaultDevice() audit.Device {
	return audit.Device(c.Audit.DefaultDevice)
}
