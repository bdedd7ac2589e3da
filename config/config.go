// Package config loads service configuration from a YAML or JSON file with
// optional environment overrides (K_SECTION__KEY).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/model"
	"vetdispatch/infra/mqtt"
)

// APIConfig configures the HTTP API server.
type APIConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store: postgres driver requires dsn")
		}
		return nil
	default:
		return fmt.Errorf("store: unknown driver %s", c.Driver)
	}
}

// MetricsConfig configures the metrics sinks.
type MetricsConfig struct {
	PrometheusAddr string `json:"prometheus_addr"` // empty disables the /metrics server
	InfluxURL      string `json:"influx_url"`      // empty disables the Influx sink
	InfluxToken    string `json:"influx_token"`
	InfluxOrg      string `json:"influx_org"`
	InfluxBucket   string `json:"influx_bucket"`
}

// Config is the root service configuration.
type Config struct {
	API       APIConfig            `json:"api"`
	Store     StoreConfig          `json:"store"`
	MQTT      mqtt.Config          `json:"mqtt"`
	Metrics   MetricsConfig        `json:"metrics"`
	Dispatch  dispatch.Config      `json:"dispatch"`
	Directory []model.Veterinarian `json:"directory"` // seed for memory mode
}

// Load reads the configuration file, applies env overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.API.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.Dispatch.SetDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
