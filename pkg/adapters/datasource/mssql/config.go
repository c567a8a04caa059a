package mssql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

// Config contains SQL Server-specific connection options.
// Only SQL authentication is supported for scanned sources.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromTarget creates a Config from a resolved connection target.
// Options "encrypt", "trust_server_certificate" and "connection_timeout" come from
// registration metadata. SSLMode "disable" turns encryption off.
func FromTarget(t *datasource.ConnectionTarget) (*Config, error) {
	if t.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if t.Database == "" {
		return nil, fmt.Errorf("database is required")
	}

	cfg := &Config{
		Host:              t.Host,
		Port:              t.Port,
		Database:          t.Database,
		Username:          t.User,
		Password:          t.Password,
		Encrypt:           !strings.EqualFold(t.SSLMode, "disable"),
		ConnectionTimeout: DefaultConnectionTimeout(),
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort()
	}

	if v, ok := t.Options["encrypt"]; ok {
		cfg.Encrypt = v == "true" || v == "strict"
	}
	if v, ok := t.Options["trust_server_certificate"]; ok {
		cfg.TrustServerCertificate = v == "true"
	}
	if v, ok := t.Options["connection_timeout"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("connection_timeout must be an integer: %w", err)
		}
		cfg.ConnectionTimeout = n
	}
	return cfg, nil
}

// ConnectionString builds a sqlserver:// URL with escaped credentials.
func (c *Config) ConnectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", strconv.FormatBool(c.Encrypt))
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}
