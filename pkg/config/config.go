// Package config loads panelrelay settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PANELRELAY_"

// Config is the full runtime configuration
type Config struct {
	LogLevel string       `yaml:"logLevel"`
	Relay    RelayConfig  `yaml:"relay"`
	Panel    PanelConfig  `yaml:"panel"`
	Veyon    VeyonConfig  `yaml:"veyon"`
	Server   ServerConfig `yaml:"server"`
}

// RelayConfig says how the panel reaches the relay server
type RelayConfig struct {
	URL  string `yaml:"url"`
	Auth string `yaml:"auth"`
}

// VeyonConfig holds the credentials used for every endpoint
type VeyonConfig struct {
	Method   string `yaml:"method"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PanelConfig tunes the operator panel
type PanelConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"`
	AdmitInterval    time.Duration `yaml:"admitInterval"`
	Lookahead        int           `yaml:"lookahead"`
	MetadataRetries  int           `yaml:"metadataRetries"`
	MetadataCooldown time.Duration `yaml:"metadataCooldown"`
	SavedPath        string        `yaml:"savedPath"`
	OutputDir        string        `yaml:"outputDir"`
}

// ServerConfig configures the relay server
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	VendorAddr string `yaml:"vendorAddr"`
	StaticDir  string `yaml:"staticDir"`
	Auth       string `yaml:"auth"`
	PublicHost string `yaml:"publicHost"`
	NetPrefix  string `yaml:"netPrefix"`

	// TrustProxyHeaders takes a message sender's address from X-Real-Ip or
	// X-Forwarded-For. Only enable it behind a reverse proxy.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Relay:    RelayConfig{URL: "http://localhost:8080"},
		Veyon:    VeyonConfig{Method: "logon"},
		Panel: PanelConfig{
			PollInterval:     2 * time.Second,
			AdmitInterval:    time.Second,
			Lookahead:        6,
			MetadataRetries:  3,
			MetadataCooldown: 5 * time.Second,
			SavedPath:        filepath.Join(configDir(), "saved.json"),
			OutputDir:        "panels",
		},
		Server: ServerConfig{
			Port:       8080,
			VendorAddr: "localhost:11080",
			NetPrefix:  "10.",
		},
	}
}

// LoadConfig loads configuration from a YAML file and environment overrides.
// A missing file is only an error when it was asked for explicitly.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"LOG_LEVEL":      &cfg.LogLevel,
		"RELAY_URL":      &cfg.Relay.URL,
		"RELAY_AUTH":     &cfg.Relay.Auth,
		"VEYON_METHOD":   &cfg.Veyon.Method,
		"VEYON_USERNAME": &cfg.Veyon.Username,
		"VEYON_PASSWORD": &cfg.Veyon.Password,
		"SAVED_PATH":     &cfg.Panel.SavedPath,
		"OUTPUT_DIR":     &cfg.Panel.OutputDir,
		"SERVER_HOST":    &cfg.Server.Host,
		"VENDOR_ADDR":    &cfg.Server.VendorAddr,
		"STATIC_DIR":     &cfg.Server.StaticDir,
		"SERVER_AUTH":    &cfg.Server.Auth,
		"PUBLIC_HOST":    &cfg.Server.PublicHost,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"POLL_INTERVAL":     &cfg.Panel.PollInterval,
		"ADMIT_INTERVAL":    &cfg.Panel.AdmitInterval,
		"METADATA_COOLDOWN": &cfg.Panel.MetadataCooldown,
	}
	for name, dst := range durations {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"TRUST_PROXY_HEADERS": &cfg.Server.TrustProxyHeaders,
	}
	for name, dst := range bools {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"LOOKAHEAD":        &cfg.Panel.Lookahead,
		"METADATA_RETRIES": &cfg.Panel.MetadataRetries,
		"SERVER_PORT":      &cfg.Server.Port,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	return nil
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".panelrelay")
}

// DefaultConfigPath returns the default location for the config file
func DefaultConfigPath() string {
	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return filepath.Join(configDir(), "config.yaml")
}
