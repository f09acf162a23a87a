// Package config provides YAML-based configuration loading for meshpay nodes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// DataDir base directory for persistent data (node identity lives here)
	DataDir string `mapstructure:"data_dir"`

	// NodeID overrides the persisted node identity when set. Leave empty to
	// load or generate the identity from DataDir.
	NodeID string `mapstructure:"node_id"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Mesh holds relay protocol settings
	Mesh MeshConfig `mapstructure:"mesh"`

	// Lightning holds payment executor settings
	Lightning LightningConfig `mapstructure:"lightning"`

	// Transports list to configure multiple inbound/outbound links
	Transports []TransportConfig `mapstructure:"transports"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "meshpay-node",
		DataDir: "./data",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/meshpay.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Mesh: MeshConfig{
			DefaultTTL:        10,
			ScanWindowSec:     30,
			DedupRetentionSec: 600,
			PeerTTLSec:        300,
			WireFormat:        "json",
		},
		Lightning: LightningConfig{
			Mode:    "simulator",
			Network: "regtest",
		},
		Transports: []TransportConfig{
			{
				Kind:   "tcp",
				Listen: []string{":7735"},
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix MESHPAY and `.`/`-` are replaced with `_`.
// Example: MESHPAY_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MESHPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	// Mesh defaults
	v.SetDefault("mesh.default_ttl", cfg.Mesh.DefaultTTL)
	v.SetDefault("mesh.scan_window_sec", cfg.Mesh.ScanWindowSec)
	v.SetDefault("mesh.dedup_retention_sec", cfg.Mesh.DedupRetentionSec)
	v.SetDefault("mesh.peer_ttl_sec", cfg.Mesh.PeerTTLSec)
	v.SetDefault("mesh.wire_format", cfg.Mesh.WireFormat)
	// Lightning defaults
	v.SetDefault("lightning.mode", cfg.Lightning.Mode)
	v.SetDefault("lightning.network", cfg.Lightning.Network)
	v.SetDefault("lightning.sim_latency_ms", cfg.Lightning.SimLatencyMS)
	// Transports default
	v.SetDefault("transports", cfg.Transports)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("MESHPAY_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `meshpay`
		v.SetConfigName("meshpay")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshpay"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.Mesh.DefaultTTL <= 0 {
		c.Mesh.DefaultTTL = 10
	}
	if c.Mesh.ScanWindowSec <= 0 {
		c.Mesh.ScanWindowSec = 30
	}
	if c.Mesh.DedupRetentionSec <= 0 {
		c.Mesh.DedupRetentionSec = 600
	}
	if c.Mesh.PeerTTLSec <= 0 {
		c.Mesh.PeerTTLSec = 300
	}
	switch strings.ToLower(strings.TrimSpace(c.Mesh.WireFormat)) {
	case "", "json":
		c.Mesh.WireFormat = "json"
	case "cbor":
		c.Mesh.WireFormat = "cbor"
	case "msgpack":
		c.Mesh.WireFormat = "msgpack"
	default:
		return fmt.Errorf("invalid mesh.wire_format: %q", c.Mesh.WireFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.Lightning.Mode)) {
	case "", "simulator":
		c.Lightning.Mode = "simulator"
	default:
		return fmt.Errorf("invalid lightning.mode: %q", c.Lightning.Mode)
	}
	// basic validation of transports
	for i := range c.Transports {
		c.Transports[i].Kind = strings.ToLower(strings.TrimSpace(c.Transports[i].Kind))
		// nothing else mandatory; listen/dial can be empty
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
