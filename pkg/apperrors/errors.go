package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidRule            = errors.New("invalid identity rule")
	ErrInvalidSource          = errors.New("invalid source registration")
	ErrIdentifierNotAllowed   = errors.New("identifier not present in discovered catalog")
	ErrUnsupportedSourceType  = errors.New("unsupported source database type")
	ErrCredentialsKeyMismatch = errors.New("source credentials were encrypted with a different key")
	ErrScanInProgress         = errors.New("scan already in progress for source")
)
