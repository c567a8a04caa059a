package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/audit"
	"github.com/ekaya-inc/golden-engine/pkg/config"
	"github.com/ekaya-inc/golden-engine/pkg/crypto"
	"github.com/ekaya-inc/golden-engine/pkg/jsonutil"
	"github.com/ekaya-inc/golden-engine/pkg/logging"
	"github.com/ekaya-inc/golden-engine/pkg/models"
	"github.com/ekaya-inc/golden-engine/pkg/repositories"
	sqlutil "github.com/ekaya-inc/golden-engine/pkg/sql"
)

// metadataPasswordKey is the registration metadata entry consulted when no
// explicit password is stored. The service seals it like the password column.
const metadataPasswordKey = "password"

const maxScanErrorLength = 2000

// SourceService manages source database registrations.
type SourceService interface {
	// Create validates and stores a registration, sealing password.
	Create(ctx context.Context, reg *models.SourceRegistration, password string) (*models.SourceRegistration, error)

	// Update applies a partial update. Omitting Password keeps the stored credential.
	Update(ctx context.Context, id uuid.UUID, upd *models.SourceUpdate) (*models.SourceRegistration, error)

	Get(ctx context.Context, id uuid.UUID) (*models.SourceRegistration, error)
	GetByName(ctx context.Context, name string) (*models.SourceRegistration, error)
	List(ctx context.Context) ([]*models.SourceRegistration, error)
	ListActive(ctx context.Context) ([]*models.SourceRegistration, error)
	Deactivate(ctx context.Context, id uuid.UUID) error

	// BuildConnectionTarget resolves credentials (explicit password, then the
	// metadata password, then none) and rewrites loopback hosts.
	BuildConnectionTarget(reg *models.SourceRegistration) (*datasource.ConnectionTarget, error)

	// RecordScanResult stamps last_scan_at/status/error on the registration.
	RecordScanResult(ctx context.Context, id uuid.UUID, status string, scanErr error) error
}

type sourceService struct {
	repo          repositories.SourceRepository
	encryptor     *crypto.CredentialEncryptor
	loopbackAlias string
	auditor       *audit.SecurityAuditor
	logger        *zap.Logger
}

// NewSourceService creates a source registry service.
// loopbackAlias is config.ScannerConfig.LoopbackAlias.
func NewSourceService(
	repo repositories.SourceRepository,
	encryptor *crypto.CredentialEncryptor,
	loopbackAlias string,
	logger *zap.Logger,
) SourceService {
	return &sourceService{
		repo:          repo,
		encryptor:     encryptor,
		loopbackAlias: loopbackAlias,
		auditor:       audit.NewSecurityAuditor(logger),
		logger:        logger.Named("sources"),
	}
}

var _ SourceService = (*sourceService)(nil)

func (s *sourceService) Create(ctx context.Context, reg *models.SourceRegistration, password string) (*models.SourceRegistration, error) {
	if reg.DBType == "" {
		reg.DBType = models.SourceTypePostgres
	}
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Active = true
	if reg.Port == 0 {
		reg.Port = defaultPort(reg.DBType)
	}
	if err := s.validate(reg); err != nil {
		return nil, err
	}

	sealed, err := s.encryptor.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}
	reg.Password = sealed

	if reg.Metadata, err = s.sealMetadataPassword(reg.Metadata); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, reg); err != nil {
		return nil, err
	}

	s.logger.Info("Registered source database",
		zap.String("source_db_id", reg.ID.String()),
		zap.String("name", reg.Name),
		zap.String("db_type", reg.DBType),
		zap.Any("metadata", logging.RedactMap(reg.Metadata)))
	return reg, nil
}

func (s *sourceService) Update(ctx context.Context, id uuid.UUID, upd *models.SourceUpdate) (*models.SourceRegistration, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := applyUpdate(*current, upd)
	if err := s.validate(&merged); err != nil {
		return nil, err
	}

	// nil leaves the stored ciphertext to the repository's COALESCE.
	sealed, err := s.encryptor.SealReplacement(upd.Password)
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}

	stored := *upd
	if stored.Metadata != nil {
		if stored.Metadata, err = s.sealMetadataPassword(stored.Metadata); err != nil {
			return nil, err
		}
		stored.Metadata = retainMetadataPassword(stored.Metadata, current.Metadata)
	}

	updated, err := s.repo.Update(ctx, id, &stored, sealed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Updated source database",
		zap.String("source_db_id", id.String()),
		zap.Bool("password_changed", upd.Password != nil))
	return updated, nil
}

func (s *sourceService) Get(ctx context.Context, id uuid.UUID) (*models.SourceRegistration, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *sourceService) GetByName(ctx context.Context, name string) (*models.SourceRegistration, error) {
	return s.repo.GetByName(ctx, name)
}

func (s *sourceService) List(ctx context.Context) ([]*models.SourceRegistration, error) {
	return s.repo.List(ctx)
}

func (s *sourceService) ListActive(ctx context.Context) ([]*models.SourceRegistration, error) {
	return s.repo.ListActive(ctx)
}

func (s *sourceService) Deactivate(ctx context.Context, id uuid.UUID) error {
	inactive := false
	if _, err := s.repo.Update(ctx, id, &models.SourceUpdate{Active: &inactive}, nil); err != nil {
		return err
	}
	s.logger.Info("Deactivated source database", zap.String("source_db_id", id.String()))
	return nil
}

func (s *sourceService) BuildConnectionTarget(reg *models.SourceRegistration) (*datasource.ConnectionTarget, error) {
	password, err := s.open(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("source %s password: %w", reg.Name, err)
	}

	if password == "" {
		if sealed, ok := reg.Metadata[metadataPasswordKey].(string); ok && sealed != "" {
			if password, err = s.open(sealed); err != nil {
				return nil, fmt.Errorf("source %s metadata password: %w", reg.Name, err)
			}
		}
	}

	target := &datasource.ConnectionTarget{
		SourceID: reg.ID,
		Type:     reg.DBType,
		Host:     reg.Host,
		Port:     reg.Port,
		Database: reg.DatabaseName,
		User:     reg.Username,
		Password: password,
		SSLMode:  reg.SSLMode,
		Options:  make(map[string]string),
	}
	if target.Type == "" {
		target.Type = models.SourceTypePostgres
	}
	if target.Host != "" {
		target.Host = config.ResolveLoopbackHost(target.Host, s.loopbackAlias)
	}

	for k, v := range reg.Metadata {
		if k == metadataPasswordKey || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		target.Options[k] = jsonutil.StringValue(v)
	}
	return target, nil
}

func (s *sourceService) RecordScanResult(ctx context.Context, id uuid.UUID, status string, scanErr error) error {
	var msg *string
	if scanErr != nil {
		m := logging.TruncateString(logging.SanitizeError(scanErr), maxScanErrorLength)
		msg = &m
	}
	return s.repo.RecordScanResult(ctx, id, status, msg)
}

func (s *sourceService) open(sealed string) (string, error) {
	plain, err := s.encryptor.Decrypt(sealed)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return "", fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
		}
		return "", err
	}
	return plain, nil
}

func (s *sourceService) sealMetadataPassword(meta map[string]any) (map[string]any, error) {
	pw, ok := meta[metadataPasswordKey].(string)
	if !ok || pw == "" {
		return meta, nil
	}
	sealed, err := s.encryptor.Encrypt(pw)
	if err != nil {
		return nil, fmt.Errorf("seal metadata password: %w", err)
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	out[metadataPasswordKey] = sealed
	return out, nil
}

// retainMetadataPassword carries the stored (sealed) metadata password into a
// replacement map that does not mention the key. An explicit "password" entry,
// even an empty one, replaces it.
func retainMetadataPassword(next, current map[string]any) map[string]any {
	if _, ok := next[metadataPasswordKey]; ok {
		return next
	}
	sealed, ok := current[metadataPasswordKey].(string)
	if !ok || sealed == "" {
		return next
	}
	out := make(map[string]any, len(next)+1)
	for k, v := range next {
		out[k] = v
	}
	out[metadataPasswordKey] = sealed
	return out
}

func defaultPort(dbType string) int {
	switch dbType {
	case models.SourceTypePostgres:
		return 5432
	case models.SourceTypeMSSQL:
		return 1433
	}
	return 0
}

func applyUpdate(reg models.SourceRegistration, upd *models.SourceUpdate) models.SourceRegistration {
	if upd.Name != nil {
		reg.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Host != nil {
		reg.Host = *upd.Host
	}
	if upd.Port != nil {
		reg.Port = *upd.Port
	}
	if upd.DatabaseName != nil {
		reg.DatabaseName = *upd.DatabaseName
	}
	if upd.Username != nil {
		reg.Username = *upd.Username
	}
	if upd.SSLMode != nil {
		reg.SSLMode = *upd.SSLMode
	}
	if upd.Schemas != nil {
		reg.Schemas = upd.Schemas
	}
	if upd.TableBlacklist != nil {
		reg.TableBlacklist = upd.TableBlacklist
	}
	if upd.Metadata != nil {
		reg.Metadata = upd.Metadata
	}
	if upd.Active != nil {
		reg.Active = *upd.Active
	}
	return reg
}

func validateRegistration(reg *models.SourceRegistration) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{apperrors.ErrInvalidSource}, args...)...)
	}

	if reg.Name == "" {
		return invalid("name is required")
	}
	switch reg.DBType {
	case models.SourceTypePostgres, models.SourceTypeMSSQL:
		if strings.TrimSpace(reg.Host) == "" {
			return invalid("host is required for %s sources", reg.DBType)
		}
		if reg.Port < 1 || reg.Port > 65535 {
			return invalid("port %d out of range", reg.Port)
		}
	case models.SourceTypeSQLite:
	default:
		return fmt.Errorf("%w: %q", apperrors.ErrUnsupportedSourceType, reg.DBType)
	}
	if strings.TrimSpace(reg.DatabaseName) == "" {
		return invalid("database_name is required")
	}
	for _, p := range reg.TableBlacklist {
		if strings.TrimSpace(p) == "" {
			return invalid("blacklist patterns must not be empty")
		}
	}

	fields := map[string]string{
		"name":          reg.Name,
		"host":          reg.Host,
		"database_name": reg.DatabaseName,
		"username":      reg.Username,
	}
	for i, schema := range reg.Schemas {
		if strings.TrimSpace(schema) == "" {
			return invalid("schema names must not be empty")
		}
		fields[fmt.Sprintf("schemas[%d]", i)] = schema
	}
	if hits := sqlutil.CheckFieldsForInjection(fields); len(hits) > 0 {
		return &injectionError{hits: hits}
	}
	return nil
}

type injectionError struct {
	hits []*sqlutil.InjectionCheckResult
}

func (e *injectionError) Error() string {
	return fmt.Sprintf("%s: %s looks like SQL injection (fingerprint %s)",
		apperrors.ErrInvalidSource, e.hits[0].Field, e.hits[0].Fingerprint)
}

func (e *injectionError) Unwrap() error { return apperrors.ErrInvalidSource }

// validate runs validateRegistration and audits injection hits.
func (s *sourceService) validate(reg *models.SourceRegistration) error {
	err := validateRegistration(reg)
	var injErr *injectionError
	if errors.As(err, &injErr) {
		details := make([]audit.InjectionDetails, len(injErr.hits))
		for i, h := range injErr.hits {
			details[i] = audit.InjectionDetails{Field: h.Field, Fingerprint: h.Fingerprint}
		}
		s.auditor.LogInjectionAttempt(reg.Name, details)
	}
	return err
}
