// Package config loads the gateway configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Auth    AuthConfig    `yaml:"auth"`
	Sync    SyncConfig    `yaml:"sync"`
	Gateway GatewayConfig `yaml:"gateway"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Listen string    `yaml:"listen"`
	TLS    TLSConfig `yaml:"tls"`
}

// TLSConfig selects the listener TLS mode: off, self-signed, custom or acme.
type TLSConfig struct {
	Mode     string   `yaml:"mode"`
	Dir      string   `yaml:"dir"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	Domains  []string `yaml:"domains"`
}

// StoreConfig holds durable store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects the fast cache backend.
type CacheConfig struct {
	Driver    string `yaml:"driver"` // redis or memory
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuthConfig holds handshake settings.
type AuthConfig struct {
	FallbackSecret         string        `yaml:"fallback_secret"`
	RequireKeyConfirmation bool          `yaml:"require_key_confirmation"`
	KEMScheme              string        `yaml:"kem_scheme"`
	NonceTTL               time.Duration `yaml:"nonce_ttl"`
	KEMKeyTTL              time.Duration `yaml:"kem_key_ttl"`
	SessionKeyTTL          time.Duration `yaml:"session_key_ttl"`
	CredentialTTL          time.Duration `yaml:"credential_ttl"`
}

// SyncConfig holds credential cache sync settings.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// GatewayConfig holds connection handling settings.
type GatewayConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	// MaxPulseFailures closes a session after that many consecutive
	// undecryptable pulses. Zero never closes.
	MaxPulseFailures int `yaml:"max_pulse_failures"`
	DashboardBuffer  int `yaml:"dashboard_buffer"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8080",
			TLS: TLSConfig{
				Mode: "off",
				Dir:  "data/tls",
			},
		},
		Store: StoreConfig{
			Path: "data/raidware.db",
		},
		Cache: CacheConfig{
			Driver: "redis",
			Addr:   "localhost:6379",
		},
		Auth: AuthConfig{
			RequireKeyConfirmation: true,
			KEMScheme:              "MLKEM768",
			NonceTTL:               30 * time.Second,
			KEMKeyTTL:              60 * time.Second,
			SessionKeyTTL:          24 * time.Hour,
			CredentialTTL:          4 * time.Hour,
		},
		Sync: SyncConfig{
			Interval: time.Hour,
		},
		Gateway: GatewayConfig{
			HandshakeTimeout: 30 * time.Second,
			WriteTimeout:     10 * time.Second,
			DashboardBuffer:  64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// SecurityWarnings lists valid but weakened authentication settings so the
// operator sees them at startup.
func (c *Config) SecurityWarnings() []string {
	var warnings []string
	if c.Auth.FallbackSecret != "" {
		warnings = append(warnings, "org fallback secret enabled; unprovisioned devices can authenticate")
	}
	if !c.Auth.RequireKeyConfirmation {
		warnings = append(warnings, "key confirmation not required; a device sending a mismatched KEM ciphertext "+
			"and no confirmation is accepted with an unusable session key")
	}
	return warnings
}

// Validate checks settings that would make the handshake unsafe or
// leave credentials stranded between sync runs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.driver must be redis or memory, got %q", c.Cache.Driver))
	}
	switch c.Server.TLS.Mode {
	case "", "off", "self-signed", "custom", "acme":
	default:
		errs = append(errs, fmt.Errorf("server.tls.mode %q is not supported", c.Server.TLS.Mode))
	}
	if c.Server.TLS.Mode == "custom" && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls custom mode needs cert_file and key_file"))
	}
	if c.Auth.NonceTTL <= 0 {
		errs = append(errs, errors.New("auth.nonce_ttl must be positive"))
	}
	if c.Auth.KEMKeyTTL < c.Auth.NonceTTL {
		errs = append(errs, errors.New("auth.kem_key_ttl must not be shorter than auth.nonce_ttl"))
	}
	if c.Auth.SessionKeyTTL <= 0 {
		errs = append(errs, errors.New("auth.session_key_ttl must be positive"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Auth.CredentialTTL <= c.Sync.Interval {
		errs = append(errs, errors.New("auth.credential_ttl must exceed sync.interval"))
	}
	if c.Gateway.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("gateway.handshake_timeout must be positive"))
	}
	if c.Gateway.MaxPulseFailures < 0 {
		errs = append(errs, errors.New("gateway.max_pulse_failures must not be negative"))
	}
	return errors.Join(errs...)
}
