// Package config loads and validates runtime configuration from
// defaults, an optional YAML file and LIGHTCURVEDB_ environment
// variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Host          string `koanf:"host"`
	Port          int    `koanf:"port"`
	ShutdownGrace string `koanf:"shutdown_grace"` // parsed and validated on startup
}

type StorageConfig struct {
	// Backend selects the flux store implementation:
	// postgres | clickhouse | parquet | memory.
	Backend       string `koanf:"backend"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	ClickhouseDSN string `koanf:"clickhouse_dsn"`
	ParquetDir    string `koanf:"parquet_dir"`
	AutoMigrate   bool   `koanf:"auto_migrate"`
}

type LogConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EffectiveShutdownGrace returns the parsed shutdown grace period.
// Validate guarantees it parses.
func (c ServerConfig) EffectiveShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownGrace)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	grace, err := time.ParseDuration(c.Server.ShutdownGrace)
	if err != nil {
		return fmt.Errorf("invalid server.shutdown_grace %q: %w", c.Server.ShutdownGrace, err)
	}
	if grace <= 0 {
		return fmt.Errorf("server.shutdown_grace must be > 0")
	}

	switch c.Storage.Backend {
	case "postgres":
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	case "clickhouse":
		if strings.TrimSpace(c.Storage.ClickhouseDSN) == "" {
			return fmt.Errorf("storage.clickhouse_dsn is required for the clickhouse backend")
		}
	case "parquet":
		if strings.TrimSpace(c.Storage.ParquetDir) == "" {
			return fmt.Errorf("storage.parquet_dir is required for the parquet backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend)
	}

	return nil
}

// Load parses config from defaults, an optional file and env, then
// validates it. An empty configPath skips the file layer.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.host":            "0.0.0.0",
		"server.port":            8080,
		"server.shutdown_grace":  "10s",
		"storage.backend":        "memory",
		"storage.postgres_dsn":   "",
		"storage.clickhouse_dsn": "",
		"storage.parquet_dir":    "./data",
		"storage.auto_migrate":   true,
		"log.level":              "info",
		"log.encoding":           "json",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("LIGHTCURVEDB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LIGHTCURVEDB_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
