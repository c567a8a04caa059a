package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

const testRulesYAML = `
rules:
  - rule_id: rule-customer-default
    rule_name: Default customer email and phone match
    object_type: customer
    source_system: demo
    key_fields: [email, phone]
    normalization_rules:
      email: lowercase
      phone: digits_only
  - rule_id: rule-vendor-tax
    rule_name: Vendor tax id
    object_type: vendor
    source_system: erp
    key_fields: [tax_id]
    normalization_rules:
      tax_id: alphanumeric_only
    active: false
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(testRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "rule-customer-default", rules[0].RuleID)
	assert.Equal(t, []string{"email", "phone"}, rules[0].KeyFields)
	assert.Equal(t, "digits_only", rules[0].NormalizationRules["phone"])
	assert.True(t, rules[0].Active, "active defaults to true")
	assert.False(t, rules[1].Active)
}

func TestParseRules_Malformed(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - key_fields: {not: a list}\n"))
	require.Error(t, err)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRuleService_Create(t *testing.T) {
	repo := newMockRuleRepository()
	svc := NewRuleService(repo, zap.NewNop())

	require.NoError(t, svc.Create(context.Background(), customerRule("r1")))

	err := svc.Create(context.Background(), customerRule("r1"))
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestRuleService_Create_RejectsActiveRuleWithoutKeyFields(t *testing.T) {
	svc := NewRuleService(newMockRuleRepository(), zap.NewNop())
	rule := customerRule("r1")
	rule.KeyFields = nil

	err := svc.Create(context.Background(), rule)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRule))
}

func TestRuleService_Create_AcceptsUnknownPolicy(t *testing.T) {
	svc := NewRuleService(newMockRuleRepository(), zap.NewNop())
	rule := customerRule("r1")
	rule.NormalizationRules["email"] = "soundex"

	require.NoError(t, svc.Create(context.Background(), rule))
}

func TestRuleService_UpdateAndDeactivate(t *testing.T) {
	repo := newMockRuleRepository()
	svc := NewRuleService(repo, zap.NewNop())

	err := svc.Update(context.Background(), customerRule("missing"))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, svc.Create(context.Background(), customerRule("r1")))
	updated := customerRule("r1")
	updated.KeyFields = []string{"email"}
	require.NoError(t, svc.Update(context.Background(), updated))
	assert.Equal(t, []string{"email"}, repo.rules["r1"].KeyFields)

	require.NoError(t, svc.Deactivate(context.Background(), "r1"))
	active, err := svc.List(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRuleService_Import(t *testing.T) {
	rules, err := ParseRules([]byte(testRulesYAML))
	require.NoError(t, err)

	repo := newMockRuleRepository()
	svc := NewRuleService(repo, zap.NewNop())

	n, err := svc.Import(context.Background(), rules)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, repo.rules, 2)
}

func TestRuleService_Import_ValidatesBeforeWriting(t *testing.T) {
	bad := customerRule("r2")
	bad.ObjectType = ""
	repo := newMockRuleRepository()
	svc := NewRuleService(repo, zap.NewNop())

	_, err := svc.Import(context.Background(), []*models.IdentityRule{customerRule("r1"), bad})
	require.Error(t, err)
	assert.Empty(t, repo.rules)

	_, err = svc.Import(context.Background(), []*models.IdentityRule{customerRule("r1"), customerRule("r1")})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRule))
}
