package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is the YAML file read by Load when no path is given.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for golden-engine.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Logging LoggingConfig `yaml:"logging"`

	// Database is the store holding rules, golden objects, the source registry and scan runs.
	Database DatabaseConfig `yaml:"database"`

	// Datasource connection management for scanned source databases.
	Datasource DatasourceConfig `yaml:"datasource"`

	Scanner ScannerConfig `yaml:"scanner"`

	// Redis is optional; when Host is empty no scan lock is taken.
	Redis RedisConfig `yaml:"redis"`

	// Credential encryption key for source database passwords.
	// Must be a 32-byte key, base64 encoded, or any passphrase. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"PROJECT_CREDENTIALS_KEY"` // Secret - not in YAML
}

// LoggingConfig controls the zap logger built by the composition root.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json or console
}

// DatabaseConfig holds PostgreSQL store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"golden"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"golden_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"15"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// URL overrides every discrete field above when set.
	URL string `yaml:"-" env:"DATABASE_URL"`
}

// DatasourceConfig holds connection pool settings for scanned source databases.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle source connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of connections per source pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"4"`
	// PoolMinConns is the minimum number of connections per source pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// StoreTablePrefix names every table the migrations create.
const StoreTablePrefix = "engine_"

// ScannerConfig controls the source scanner.
type ScannerConfig struct {
	// LoopbackAlias replaces localhost/127.0.0.1 in source hosts. When empty the alias
	// is only applied inside Docker (host.docker.internal).
	LoopbackAlias string `yaml:"loopback_alias" env:"SCANNER_LOOPBACK_ALIAS" env-default:""`
	// LocalSourceName is the source identifier recorded when no sources are registered.
	LocalSourceName string `yaml:"local_source_name" env:"SCANNER_LOCAL_SOURCE_NAME" env-default:"local"`
	// InternalTablePrefix is always blacklisted so the store never profiles itself.
	// It must equal StoreTablePrefix.
	InternalTablePrefix string        `yaml:"internal_table_prefix" env:"SCANNER_INTERNAL_TABLE_PREFIX" env-default:"engine_"`
	TableTimeout        time.Duration `yaml:"table_timeout" env:"SCANNER_TABLE_TIMEOUT" env-default:"2m"`
	SourceTimeout       time.Duration `yaml:"source_timeout" env:"SCANNER_SOURCE_TIMEOUT" env-default:"30m"`
	// SourceConcurrency > 1 scans independent sources in parallel.
	SourceConcurrency int `yaml:"source_concurrency" env:"SCANNER_SOURCE_CONCURRENCY" env-default:"1"`
}

// RedisConfig holds the optional Redis connection used for scan locks.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Load reads configuration from the YAML file at path with environment variable overrides.
// A missing file is not an error: configuration then comes from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scanner.SourceConcurrency < 1 {
		c.Scanner.SourceConcurrency = 1
	}
	if c.Scanner.TableTimeout <= 0 {
		return fmt.Errorf("scanner.table_timeout must be positive")
	}
	if c.Scanner.SourceTimeout <= 0 {
		return fmt.Errorf("scanner.source_timeout must be positive")
	}
	if c.Scanner.InternalTablePrefix == "" {
		c.Scanner.InternalTablePrefix = StoreTablePrefix
	}
	if c.Scanner.InternalTablePrefix != StoreTablePrefix {
		return fmt.Errorf("scanner.internal_table_prefix must be %q to match the store tables, got %q",
			StoreTablePrefix, c.Scanner.InternalTablePrefix)
	}
	if strings.TrimSpace(c.Scanner.LocalSourceName) == "" {
		return fmt.Errorf("scanner.local_source_name must not be empty")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string for the store.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
