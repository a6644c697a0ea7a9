package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

// DefaultBridgeURL is the local Scratch Link style BLE endpoint.
const DefaultBridgeURL = "wss://device-manager.scratch.mit.edu:20110/scratch/ble"

// Config is the root configuration.
type Config struct {
	Bridge    BridgeConfig    `json:"bridge" yaml:"bridge"`
	Extension ExtensionConfig `json:"extension" yaml:"extension"`
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`
	Pairing   PairingConfig   `json:"pairing" yaml:"pairing"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// BridgeConfig describes how to reach the bridge process.
type BridgeConfig struct {
	URL                string  `json:"url" yaml:"url"`
	Origin             string  `json:"origin,omitempty" yaml:"origin,omitempty"`
	InsecureSkipVerify bool    `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
	DialTimeoutSeconds int     `json:"dial_timeout_seconds,omitempty" yaml:"dial_timeout_seconds,omitempty"`
	SendRate           float64 `json:"send_rate,omitempty" yaml:"send_rate,omitempty"` // sends per second, 0 = unpaced
	SendBurst          int     `json:"send_burst,omitempty" yaml:"send_burst,omitempty"`
}

// ExtensionConfig binds a session to one extension and its scan filters.
type ExtensionConfig struct {
	ID               string            `json:"id" yaml:"id"`
	Filters          []protocol.Filter `json:"filters" yaml:"filters"`
	OptionalServices []string          `json:"optional_services,omitempty" yaml:"optional_services,omitempty"`
}

type DiscoveryConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type PairingConfig struct {
	StorePath string `json:"store_path" yaml:"store_path"`
	Keyring   bool   `json:"keyring,omitempty" yaml:"keyring,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// TelemetryConfig enables OTLP trace export (binary built with -tags otel).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // grpc or http
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URL:                DefaultBridgeURL,
			DialTimeoutSeconds: 10,
		},
		Extension: ExtensionConfig{
			ID: "icobot",
			Filters: []protocol.Filter{
				{NamePrefix: "iCOBOT"},
			},
		},
		Discovery: DiscoveryConfig{TimeoutSeconds: 15},
		Pairing:   PairingConfig{StorePath: "~/.blelink/paired.json"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config at path over the defaults. A missing file yields the
// defaults. Files ending in .yaml/.yml are YAML, anything else is JSON5.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Extension.ID = NormalizeExtensionID(cfg.Extension.ID)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BLELINK_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("BLELINK_EXTENSION_ID"); v != "" {
		c.Extension.ID = v
	}
	if v := os.Getenv("BLELINK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks values that would make a session unusable.
func (c *Config) Validate() error {
	if c.Extension.ID == "" {
		return fmt.Errorf("extension.id is required and must contain a letter or digit")
	}
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required")
	}
	if !strings.HasPrefix(c.Bridge.URL, "ws://") && !strings.HasPrefix(c.Bridge.URL, "wss://") {
		return fmt.Errorf("bridge.url must be a ws:// or wss:// URL, got %q", c.Bridge.URL)
	}
	if c.Discovery.TimeoutSeconds < 0 {
		return fmt.Errorf("discovery.timeout_seconds must not be negative")
	}
	if c.Bridge.SendRate < 0 {
		return fmt.Errorf("bridge.send_rate must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// DiscoverParams builds the discover request params from the extension config.
func (c *Config) DiscoverParams() protocol.DiscoverParams {
	filters := c.Extension.Filters
	if filters == nil {
		filters = []protocol.Filter{}
	}
	return protocol.DiscoverParams{
		Filters:          filters,
		OptionalServices: c.Extension.OptionalServices,
	}
}

// ScanTimeout returns the discovery window; zero means the session default.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutSeconds) * time.Second
}

// DialTimeout returns the bridge handshake timeout.
func (c *Config) DialTimeout() time.Duration {
	if c.Bridge.DialTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Bridge.DialTimeoutSeconds) * time.Second
}

// ExpandHome expands a leading "~/" to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
