package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

func validRule() *IdentityRule {
	return &IdentityRule{
		RuleID:       "rule-001",
		RuleName:     "Customer Email Match",
		ObjectType:   "customer",
		SourceSystem: "crm",
		KeyFields:    []string{"email", "phone"},
		NormalizationRules: map[string]string{
			"email": PolicyLowercase,
			"phone": PolicyDigitsOnly,
		},
		Active: true,
	}
}

func TestIdentityRule_Validate(t *testing.T) {
	assert.NoError(t, validRule().Validate())

	tests := []struct {
		name   string
		mutate func(r *IdentityRule)
	}{
		{"missing id", func(r *IdentityRule) { r.RuleID = " " }},
		{"missing object type", func(r *IdentityRule) { r.ObjectType = "" }},
		{"missing source system", func(r *IdentityRule) { r.SourceSystem = "" }},
		{"active without key fields", func(r *IdentityRule) { r.KeyFields = nil }},
		{"blank key field", func(r *IdentityRule) { r.KeyFields = []string{"email", ""} }},
		{"duplicate key field", func(r *IdentityRule) { r.KeyFields = []string{"email", "email"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			assert.ErrorIs(t, r.Validate(), apperrors.ErrInvalidRule)
		})
	}
}

func TestIdentityRule_InactiveMayHaveNoKeys(t *testing.T) {
	r := validRule()
	r.Active = false
	r.KeyFields = nil
	assert.NoError(t, r.Validate())
}

func TestIdentityRule_PolicyFor(t *testing.T) {
	r := validRule()
	assert.Equal(t, PolicyLowercase, r.PolicyFor("email"))
	assert.Equal(t, PolicyTrim, r.PolicyFor("name"))

	r.NormalizationRules = nil
	assert.Equal(t, PolicyTrim, r.PolicyFor("email"))
}

func TestIdentityRule_UnknownPolicies(t *testing.T) {
	r := validRule()
	assert.Empty(t, r.UnknownPolicies())

	r.NormalizationRules["phone"] = "soundex"
	assert.Equal(t, []string{"phone=soundex"}, r.UnknownPolicies())
}

func TestScanRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, ScanRunPending.IsTerminal())
	assert.True(t, ScanRunSuccess.IsTerminal())
	assert.True(t, ScanRunFailed.IsTerminal())
}
