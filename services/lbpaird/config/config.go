// Package config loads the lbpaird YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"liquiditybook/native/lb/pricing"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for lbpaird.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	PresetsPath   string          `yaml:"presets"`
	SnapshotPath  string          `yaml:"snapshots"`
	LedgerPath    string          `yaml:"ledger"`
	History       HistoryConfig   `yaml:"history"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Webhook       WebhookConfig   `yaml:"webhook"`
	Rewards       RewardsConfig   `yaml:"rewards"`
	Pairs         []PairConfig    `yaml:"pairs"`
}

// HistoryConfig selects the audit history database.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Path is a shortcut for an on-disk sqlite database when DSN is empty.
	Path string `yaml:"path"`
}

// AuthConfig verifies the admin bearer tokens issued by the operator's
// authorization service.
type AuthConfig struct {
	JWTSecret  string   `yaml:"jwt_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	AdminScope string   `yaml:"admin_scope"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request rates on the public routes.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Disabled    bool              `yaml:"disabled"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// WebhookConfig points at the operator endpoint notified of closed epochs
// and collected protocol fees. Empty endpoint disables delivery.
type WebhookConfig struct {
	Endpoint string `yaml:"endpoint"`
	Secret   string `yaml:"secret"`
}

// RewardsConfig schedules automatic epoch closes. Zero interval leaves
// closing to the admin endpoint.
type RewardsConfig struct {
	EpochInterval Duration `yaml:"epoch_interval"`
	ExportBaseURL string   `yaml:"export_base_url"`
}

// PairConfig instantiates one pair. ActiveID wins over Price when both are set.
type PairConfig struct {
	Name     string `yaml:"name"`
	TokenX   string `yaml:"token_x"`
	TokenY   string `yaml:"token_y"`
	BinStep  uint16 `yaml:"bin_step"`
	ActiveID uint32 `yaml:"active_id"`
	Price    string `yaml:"price"`
}

// InitialActiveID resolves the pair's starting bin.
func (p PairConfig) InitialActiveID() (uint32, error) {
	if p.ActiveID != 0 {
		return p.ActiveID, nil
	}
	if strings.TrimSpace(p.Price) == "" {
		return 1 << 23, nil
	}
	price, err := pricing.Parse(p.Price)
	if err != nil {
		return 0, err
	}
	return pricing.IDFromPrice(price, p.BinStep)
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.PresetsPath == "" {
		cfg.PresetsPath = "/var/data/lbpaird/presets.toml"
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "/var/data/lbpaird/snapshots"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "/var/data/lbpaird/shares.db"
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = "sqlite"
	}
	if cfg.History.DSN == "" && cfg.History.Path == "" && cfg.History.Driver == "sqlite" {
		cfg.History.Path = "/var/data/lbpaird/history.sqlite"
	}
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = "lb:admin"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret must be configured")
	}
	switch cfg.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("history.driver %q must be sqlite or postgres", cfg.History.Driver)
	}
	if cfg.History.Driver == "postgres" && strings.TrimSpace(cfg.History.DSN) == "" {
		return errors.New("history.dsn is required for postgres")
	}
	if cfg.Webhook.Endpoint != "" && cfg.Webhook.Secret == "" {
		return errors.New("webhook.secret is required when webhook.endpoint is set")
	}
	if cfg.Rewards.EpochInterval.Duration < 0 {
		return errors.New("rewards.epoch_interval must not be negative")
	}
	if len(cfg.Pairs) == 0 {
		return errors.New("at least one pair must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		name := strings.TrimSpace(p.Name)
		if name == "" || strings.ContainsAny(name, "/ ") {
			return fmt.Errorf("pair name %q must be non-empty without spaces or slashes", p.Name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("pair %s configured twice", name)
		}
		seen[name] = struct{}{}
		if !common.IsHexAddress(p.TokenX) || !common.IsHexAddress(p.TokenY) {
			return fmt.Errorf("pair %s: token_x and token_y must be hex addresses", name)
		}
		if p.BinStep == 0 {
			return fmt.Errorf("pair %s: bin_step must be positive", name)
		}
		if _, err := p.InitialActiveID(); err != nil {
			return fmt.Errorf("pair %s: %w", name, err)
		}
	}
	return nil
}
