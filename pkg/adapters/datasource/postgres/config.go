package postgres

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "prefer", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "prefer"
}

// FromTarget creates a Config from a resolved connection target.
func FromTarget(t *datasource.ConnectionTarget) (*Config, error) {
	if t.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if t.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	cfg := &Config{
		Host:     t.Host,
		Port:     t.Port,
		User:     t.User,
		Password: t.Password,
		Database: t.Database,
		SSLMode:  t.SSLMode,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode()
	}
	return cfg, nil
}

// ConnectionString builds a PostgreSQL URL. User-provided fields are escaped
// so passwords containing @, /, # or ? do not break URL parsing.
func (c *Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
