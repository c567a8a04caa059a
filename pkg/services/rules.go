package services

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/models"
	"github.com/ekaya-inc/golden-engine/pkg/repositories"
)

// RuleService manages identity rules.
type RuleService interface {
	// Create stores a new rule. A rule with the same id yields ErrConflict.
	Create(ctx context.Context, rule *models.IdentityRule) error

	// Update replaces an existing rule. A missing rule yields ErrNotFound.
	Update(ctx context.Context, rule *models.IdentityRule) error

	// Deactivate marks a rule inactive so matching ignores it.
	Deactivate(ctx context.Context, ruleID string) error

	List(ctx context.Context, includeInactive bool) ([]*models.IdentityRule, error)

	// Import validates every rule first, then upserts them all. Returns the number stored.
	Import(ctx context.Context, rules []*models.IdentityRule) (int, error)
}

type ruleService struct {
	repo   repositories.IdentityRuleRepository
	logger *zap.Logger
}

// NewRuleService creates a rule service.
func NewRuleService(repo repositories.IdentityRuleRepository, logger *zap.Logger) RuleService {
	return &ruleService{repo: repo, logger: logger.Named("rules")}
}

var _ RuleService = (*ruleService)(nil)

func (s *ruleService) Create(ctx context.Context, rule *models.IdentityRule) error {
	if err := s.validate(rule); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return fmt.Errorf("rule %s: %w", rule.RuleID, err)
	}
	s.logger.Info("Created identity rule",
		zap.String("rule_id", rule.RuleID),
		zap.String("object_type", rule.ObjectType),
		zap.String("source_system", rule.SourceSystem))
	return nil
}

func (s *ruleService) Update(ctx context.Context, rule *models.IdentityRule) error {
	if err := s.validate(rule); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, rule.RuleID); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, rule)
}

func (s *ruleService) Deactivate(ctx context.Context, ruleID string) error {
	if err := s.repo.SetActive(ctx, ruleID, false); err != nil {
		return err
	}
	s.logger.Info("Deactivated identity rule", zap.String("rule_id", ruleID))
	return nil
}

func (s *ruleService) List(ctx context.Context, includeInactive bool) ([]*models.IdentityRule, error) {
	return s.repo.List(ctx, includeInactive)
}

func (s *ruleService) Import(ctx context.Context, rules []*models.IdentityRule) (int, error) {
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if err := s.validate(rule); err != nil {
			return 0, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[rule.RuleID] {
			return 0, fmt.Errorf("rule %d: duplicate rule_id %q: %w", i, rule.RuleID, apperrors.ErrInvalidRule)
		}
		seen[rule.RuleID] = true
	}

	for i, rule := range rules {
		if err := s.repo.Upsert(ctx, rule); err != nil {
			return i, fmt.Errorf("store rule %s: %w", rule.RuleID, err)
		}
	}
	s.logger.Info("Imported identity rules", zap.Int("count", len(rules)))
	return len(rules), nil
}

// validate rejects structural errors and warns about unknown policy names,
// which normalize as trim.
func (s *ruleService) validate(rule *models.IdentityRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if unknown := rule.UnknownPolicies(); len(unknown) > 0 {
		s.logger.Warn("Identity rule uses unknown normalization policies; they behave as trim",
			zap.String("rule_id", rule.RuleID),
			zap.Strings("policies", unknown))
	}
	return nil
}

// RulesFile is the YAML document accepted by `rules import`.
type RulesFile struct {
	Rules []*models.IdentityRule `yaml:"rules"`
}

// LoadRulesFile reads identity rules from a YAML file. Rules default to active
// unless the file sets active: false.
func LoadRulesFile(path string) ([]*models.IdentityRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a RulesFile document.
func ParseRules(data []byte) ([]*models.IdentityRule, error) {
	var raw struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules := make([]*models.IdentityRule, 0, len(raw.Rules))
	for i := range raw.Rules {
		rule := &models.IdentityRule{Active: true}
		if err := raw.Rules[i].Decode(rule); err != nil {
			return nil, fmt.Errorf("parse rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
