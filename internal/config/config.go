package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config is the process configuration. Values come from, in order of
// precedence: command-line flags (applied by the caller), a TOML file,
// environment variables, then the struct defaults.
type Config struct {
	Port            int      `envconfig:"PORT" default:"8765"`
	Symbols         []string `envconfig:"SYMBOLS" default:"NQ"`
	MinSize         uint32   `envconfig:"MIN_SIZE" default:"0"`
	DatabentoAPIKey string   `envconfig:"DATABENTO_API_KEY"`
	FeedEndpoint    string   `envconfig:"FEED_ENDPOINT" default:"wss://feed.databento.com/v0/stream"`
	PostgresDSN     string   `envconfig:"POSTGRES_DSN"`
	ClickhouseDSN   string   `envconfig:"CLICKHOUSE_DSN"`
	LogLevel        string   `envconfig:"LOG_LEVEL" default:"info"`
}

// fileOverlay mirrors Config with optional fields for the TOML file.
type fileOverlay struct {
	Port            *int     `toml:"port"`
	Symbols         []string `toml:"symbols"`
	MinSize         *uint32  `toml:"min_size"`
	DatabentoAPIKey *string  `toml:"databento_api_key"`
	FeedEndpoint    *string  `toml:"feed_endpoint"`
	PostgresDSN     *string  `toml:"postgres_dsn"`
	ClickhouseDSN   *string  `toml:"clickhouse_dsn"`
	LogLevel        *string  `toml:"log_level"`
}

// Load reads configuration from the environment, then overlays the TOML
// file at path if it exists. A missing file is not an error; an empty path
// skips the overlay entirely. A .env file in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	// Production deployments have no .env file; ignore the error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay fileOverlay
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if overlay.Port != nil {
		c.Port = *overlay.Port
	}
	if len(overlay.Symbols) > 0 {
		c.Symbols = overlay.Symbols
	}
	if overlay.MinSize != nil {
		c.MinSize = *overlay.MinSize
	}
	if overlay.DatabentoAPIKey != nil {
		c.DatabentoAPIKey = *overlay.DatabentoAPIKey
	}
	if overlay.FeedEndpoint != nil {
		c.FeedEndpoint = *overlay.FeedEndpoint
	}
	if overlay.PostgresDSN != nil {
		c.PostgresDSN = *overlay.PostgresDSN
	}
	if overlay.ClickhouseDSN != nil {
		c.ClickhouseDSN = *overlay.ClickhouseDSN
	}
	if overlay.LogLevel != nil {
		c.LogLevel = *overlay.LogLevel
	}

	return nil
}

// Validate checks invariants that hold for every mode.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	return nil
}
