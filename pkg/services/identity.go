package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/metrics"
	"github.com/ekaya-inc/golden-engine/pkg/models"
	"github.com/ekaya-inc/golden-engine/pkg/repositories"
)

// IdentityService resolves source records into golden objects.
type IdentityService interface {
	// ComputeFingerprint derives a golden id from the key fields of record.
	ComputeFingerprint(record map[string]any, keyFields []string, policies map[string]string) string

	// SelectRule returns the active rule with the lowest rule_id for the pair,
	// skipping rules that fail validation. Returns nil when none applies.
	SelectRule(ctx context.Context, objectType, sourceSystem string) (*models.IdentityRule, error)

	// MatchAndUpsert computes the golden id for a record and upserts it under
	// its (sourceSystem, sourceID, objectType) tuple.
	MatchAndUpsert(ctx context.Context, sourceSystem, sourceID, objectType string, attrs models.Attributes) (*models.MatchResult, error)

	// GetObject returns every source record folded into goldenID.
	// Returns apperrors.ErrNotFound when none is stored.
	GetObject(ctx context.Context, goldenID string) ([]*models.GoldenObject, error)

	// Lookup returns the golden object stored for a source tuple.
	Lookup(ctx context.Context, sourceSystem, sourceID, objectType string) (*models.GoldenObject, error)
}

type identityService struct {
	rules   repositories.IdentityRuleRepository
	objects repositories.GoldenObjectRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewIdentityService creates the identity rule engine. m may be nil.
func NewIdentityService(
	rules repositories.IdentityRuleRepository,
	objects repositories.GoldenObjectRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) IdentityService {
	return &identityService{
		rules:   rules,
		objects: objects,
		metrics: m,
		logger:  logger.Named("identity"),
	}
}

var _ IdentityService = (*identityService)(nil)

func (s *identityService) ComputeFingerprint(record map[string]any, keyFields []string, policies map[string]string) string {
	return ComputeFingerprint(record, keyFields, policies)
}

func (s *identityService) SelectRule(ctx context.Context, objectType, sourceSystem string) (*models.IdentityRule, error) {
	rules, err := s.rules.ListActive(ctx, objectType, sourceSystem)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			s.logger.Warn("Skipping invalid identity rule",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err))
			continue
		}
		return rule, nil
	}
	return nil, nil
}

func (s *identityService) MatchAndUpsert(ctx context.Context, sourceSystem, sourceID, objectType string, attrs models.Attributes) (*models.MatchResult, error) {
	if sourceSystem == "" || sourceID == "" || objectType == "" {
		return nil, fmt.Errorf("source_system, source_id and object_type are required")
	}

	attrs = models.NewAttributes(attrs)

	rule, err := s.SelectRule(ctx, objectType, sourceSystem)
	if err != nil {
		return nil, err
	}

	result := resolveGoldenID(rule, sourceSystem, sourceID, objectType, attrs)
	if result.Fallback {
		s.logger.Warn("No active identity rule, using fallback fingerprint",
			zap.String("object_type", objectType),
			zap.String("source_system", sourceSystem),
			zap.String("source_id", sourceID))
	}

	created, err := s.objects.Upsert(ctx, &models.GoldenObject{
		GoldenID:     result.GoldenID,
		SourceSystem: sourceSystem,
		SourceID:     sourceID,
		ObjectType:   objectType,
		Attributes:   attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert golden object: %w", err)
	}
	result.Created = created
	s.metrics.Matched(result.Fallback, created)

	s.logger.Debug("Resolved record",
		zap.String("golden_id", result.GoldenID),
		zap.String("rule_id", result.RuleID),
		zap.Bool("created", created))

	return result, nil
}

func (s *identityService) GetObject(ctx context.Context, goldenID string) ([]*models.GoldenObject, error) {
	if goldenID == "" {
		return nil, fmt.Errorf("golden_id is required")
	}
	objects, err := s.objects.ListByGoldenID(ctx, goldenID)
	if err != nil {
		return nil, fmt.Errorf("list golden object %s: %w", goldenID, err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("golden object %s: %w", goldenID, apperrors.ErrNotFound)
	}
	return objects, nil
}

func (s *identityService) Lookup(ctx context.Context, sourceSystem, sourceID, objectType string) (*models.GoldenObject, error) {
	if sourceSystem == "" || sourceID == "" || objectType == "" {
		return nil, fmt.Errorf("source_system, source_id and object_type are required")
	}
	obj, err := s.objects.GetBySource(ctx, sourceSystem, sourceID, objectType)
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s/%s: %w", sourceSystem, objectType, sourceID, err)
	}
	return obj, nil
}

// resolveGoldenID computes the golden id of a record under rule, or the
// fallback fingerprint when rule is nil.
func resolveGoldenID(rule *models.IdentityRule, sourceSystem, sourceID, objectType string, attrs models.Attributes) *models.MatchResult {
	if rule == nil {
		return &models.MatchResult{
			GoldenID: FallbackFingerprint(sourceSystem, sourceID, objectType),
			Fallback: true,
		}
	}

	// Source identifiers may be configured as key fields themselves.
	matchData := attrs.Clone(2)
	matchData["source_system"] = sourceSystem
	matchData["source_id"] = sourceID
	return &models.MatchResult{
		GoldenID: ComputeFingerprint(matchData, rule.KeyFields, rule.NormalizationRules),
		RuleID:   rule.RuleID,
	}
}
