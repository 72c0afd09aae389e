// Package config provides configuration management for VPN Rotator.
// It handles loading, saving, and validating the rotation settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-rotator/common"
)

// Duration wraps time.Duration so values can be written in the YAML
// file as human-readable strings ("30m", "15s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration.
// All settings are persisted to a YAML file in the install directory.
// Relative paths are resolved against the install directory on load.
type Config struct {
	// TunnelConfig is the path to the tunnel client's configuration file.
	TunnelConfig string `yaml:"tunnel_config"`
	// AuthFile is the path to the two-line credential file.
	AuthFile string `yaml:"auth_file"`
	// LogFile is the path to the persistent application log.
	LogFile string `yaml:"log_file"`
	// AttemptLog is the path of the transient per-attempt tunnel log.
	AttemptLog string `yaml:"attempt_log"`
	// HistoryDB is the path to the SQLite rotation history database.
	HistoryDB string `yaml:"history_db"`
	// TunnelBinary is the tunnel client binary and process name.
	TunnelBinary string `yaml:"tunnel_binary"`
	// Endpoints are the IP lookup services, tried in order.
	Endpoints []string `yaml:"endpoints"`

	// CheckInterval is the steady-state wait between rotation cycles.
	CheckInterval Duration `yaml:"check_interval"`
	// RecheckDelay is the wait after reconnecting before the IP check.
	RecheckDelay Duration `yaml:"recheck_delay"`
	// WarmupDelay is the wait after launch before log inspection.
	WarmupDelay Duration `yaml:"warmup_delay"`
	// SettleDelay is the wait after a stop broadcast before confirmation.
	SettleDelay Duration `yaml:"settle_delay"`
	// RetryCooldown is the wait between failed reconnect attempts.
	RetryCooldown Duration `yaml:"retry_cooldown"`
	// VerifySpacing is the wait between failed IP verification attempts.
	VerifySpacing Duration `yaml:"verify_spacing"`
	// LookupTimeout is the per-request timeout for lookup endpoints.
	LookupTimeout Duration `yaml:"lookup_timeout"`

	// MaxReconnectAttempts bounds tunnel establishment retries per cycle.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// MaxVerifyAttempts bounds IP lookups per cycle.
	MaxVerifyAttempts int `yaml:"max_verify_attempts"`
}

// DefaultEndpoints are the public IP lookup services tried in priority
// order. Each returns a bare IPv4 literal in the response body.
var DefaultEndpoints = []string{
	"https://api.ipify.org?format=text",
	"https://v4.ident.me/",
	"https://ipv4.icanhazip.com/",
	"http://ipv4.whatismyip.akamai.com/",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TunnelConfig:         filepath.Join("vpn_configs", "nl-free-2.protonvpn.udp.ovpn"),
		AuthFile:             common.AuthFileName,
		LogFile:              common.LogFileName,
		AttemptLog:           common.AttemptLogFileName,
		HistoryDB:            common.HistoryDBFileName,
		TunnelBinary:         common.TunnelProcessName,
		Endpoints:            append([]string(nil), DefaultEndpoints...),
		CheckInterval:        Duration(common.CheckInterval),
		RecheckDelay:         Duration(common.RecheckDelay),
		WarmupDelay:          Duration(common.WarmupDelay),
		SettleDelay:          Duration(common.SettleDelay),
		RetryCooldown:        Duration(common.RetryCooldown),
		VerifySpacing:        Duration(common.VerifySpacing),
		LookupTimeout:        Duration(common.LookupTimeout),
		MaxReconnectAttempts: common.MaxReconnectAttempts,
		MaxVerifyAttempts:    common.MaxVerifyAttempts,
	}
}

// Load loads the configuration from rotator.yaml in the given install
// directory. If the file doesn't exist, it is created with default
// values. Relative paths are resolved against the install directory.
func Load(installDir string) (*Config, error) {
	configPath := filepath.Join(installDir, common.ConfigFileName)

	// If it doesn't exist, persist and return default configuration
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, err
		}
		cfg.resolvePaths(installDir)
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolvePaths(installDir)
	return &cfg, nil
}

// validate verifies configuration values, falling back to defaults for
// anything missing or out of range.
func (c *Config) validate() error {
	def := DefaultConfig()

	if c.TunnelConfig == "" {
		c.TunnelConfig = def.TunnelConfig
	}
	if c.AuthFile == "" {
		c.AuthFile = def.AuthFile
	}
	if c.LogFile == "" {
		c.LogFile = def.LogFile
	}
	if c.AttemptLog == "" {
		c.AttemptLog = def.AttemptLog
	}
	if c.HistoryDB == "" {
		c.HistoryDB = def.HistoryDB
	}
	if c.TunnelBinary == "" {
		c.TunnelBinary = def.TunnelBinary
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = append([]string(nil), DefaultEndpoints...)
	}

	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.RecheckDelay <= 0 {
		c.RecheckDelay = def.RecheckDelay
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = def.WarmupDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = def.RetryCooldown
	}
	if c.VerifySpacing <= 0 {
		c.VerifySpacing = def.VerifySpacing
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = def.LookupTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.MaxVerifyAttempts <= 0 {
		c.MaxVerifyAttempts = def.MaxVerifyAttempts
	}

	return nil
}

// resolvePaths makes all file paths absolute relative to the install
// directory.
func (c *Config) resolvePaths(installDir string) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(installDir, p)
	}

	c.TunnelConfig = resolve(c.TunnelConfig)
	c.AuthFile = resolve(c.AuthFile)
	c.LogFile = resolve(c.LogFile)
	c.AttemptLog = resolve(c.AttemptLog)
	c.HistoryDB = resolve(c.HistoryDB)
}

// Save saves the configuration to the given path.
func (c *Config) Save(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}
