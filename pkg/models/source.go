package models

import (
	"time"

	"github.com/google/uuid"
)

// Source database types.
const (
	SourceTypePostgres = "postgres"
	SourceTypeMSSQL    = "mssql"
	SourceTypeSQLite   = "sqlite"
)

// Values of SourceRegistration.LastScanStatus.
const (
	LastScanStatusSuccess = "SUCCESS"
	LastScanStatusFailed  = "FAILED"
)

// SourceRegistration is a configured source database the scanner profiles.
// Password holds the sealed credential exactly as stored; the service layer opens it.
type SourceRegistration struct {
	ID             uuid.UUID      `json:"source_db_id"`
	Name           string         `json:"name"`
	DBType         string         `json:"db_type"`
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	DatabaseName   string         `json:"database_name"`
	Username       string         `json:"username"`
	Password       string         `json:"-"`
	SSLMode        string         `json:"ssl_mode,omitempty"`
	Schemas        []string       `json:"schemas"`
	TableBlacklist []string       `json:"table_blacklist"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Active         bool           `json:"active"`
	LastScanAt     *time.Time     `json:"last_scan_at,omitempty"`
	LastScanStatus *string        `json:"last_scan_status,omitempty"`
	LastScanError  *string        `json:"last_scan_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SourceUpdate carries a partial update. Nil fields are left unchanged; in
// particular a nil Password keeps the stored credential.
type SourceUpdate struct {
	Name           *string
	Host           *string
	Port           *int
	DatabaseName   *string
	Username       *string
	Password       *string
	SSLMode        *string
	Schemas        []string
	TableBlacklist []string
	Metadata       map[string]any
	Active         *bool
}
