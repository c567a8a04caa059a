package sqlite

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

// MainSchema is the only schema a SQLite source exposes.
const MainSchema = "main"

// Config contains SQLite connection options.
type Config struct {
	Path        string
	BusyTimeout int // milliseconds
}

// FromTarget reads the database file path from the target's Database field.
func FromTarget(t *datasource.ConnectionTarget) (*Config, error) {
	if t.Database == "" {
		return nil, fmt.Errorf("database file path is required")
	}
	return &Config{Path: t.Database, BusyTimeout: 5000}, nil
}

// DSN opens the file read-only; a missing file is an error instead of a new empty database.
func (c *Config) DSN() string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout))
	return "file:" + c.Path + "?" + q.Encode()
}
