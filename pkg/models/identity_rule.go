package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

// Normalization policy names.
const (
	PolicyTrim             = "trim"
	PolicyLowercase        = "lowercase"
	PolicyUppercase        = "uppercase"
	PolicyDigitsOnly       = "digits_only"
	PolicyAlphanumericOnly = "alphanumeric_only"
)

// KnownPolicies lists the policies the normalizer implements. Any other name
// behaves as trim.
var KnownPolicies = []string{
	PolicyTrim, PolicyLowercase, PolicyUppercase, PolicyDigitsOnly, PolicyAlphanumericOnly,
}

// IsKnownPolicy reports whether name is one of KnownPolicies.
func IsKnownPolicy(name string) bool {
	for _, p := range KnownPolicies {
		if p == name {
			return true
		}
	}
	return false
}

// IdentityRule says which attributes decide that two records are the same entity
// for one (object type, source system) pair.
type IdentityRule struct {
	RuleID             string            `json:"rule_id" yaml:"rule_id"`
	RuleName           string            `json:"rule_name" yaml:"rule_name"`
	ObjectType         string            `json:"object_type" yaml:"object_type"`
	SourceSystem       string            `json:"source_system" yaml:"source_system"`
	KeyFields          []string          `json:"key_fields" yaml:"key_fields"`
	NormalizationRules map[string]string `json:"normalization_rules" yaml:"normalization_rules"`
	Active             bool              `json:"active" yaml:"active"`
	CreatedAt          time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time         `json:"updated_at" yaml:"-"`
}

// PolicyFor returns the configured policy for field, defaulting to trim.
func (r *IdentityRule) PolicyFor(field string) string {
	if p, ok := r.NormalizationRules[field]; ok && p != "" {
		return p
	}
	return PolicyTrim
}

// Validate checks the structural invariants of a rule. Unknown policy names are
// not errors; UnknownPolicies lists them for callers that want to warn.
func (r *IdentityRule) Validate() error {
	if strings.TrimSpace(r.RuleID) == "" {
		return fmt.Errorf("%w: rule_id is required", apperrors.ErrInvalidRule)
	}
	if strings.TrimSpace(r.ObjectType) == "" {
		return fmt.Errorf("%w: rule %s: object_type is required", apperrors.ErrInvalidRule, r.RuleID)
	}
	if strings.TrimSpace(r.SourceSystem) == "" {
		return fmt.Errorf("%w: rule %s: source_system is required", apperrors.ErrInvalidRule, r.RuleID)
	}
	if r.Active && len(r.KeyFields) == 0 {
		return fmt.Errorf("%w: rule %s: active rules need at least one key field", apperrors.ErrInvalidRule, r.RuleID)
	}
	seen := make(map[string]bool, len(r.KeyFields))
	for _, f := range r.KeyFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: rule %s: empty key field", apperrors.ErrInvalidRule, r.RuleID)
		}
		if seen[f] {
			return fmt.Errorf("%w: rule %s: duplicate key field %q", apperrors.ErrInvalidRule, r.RuleID, f)
		}
		seen[f] = true
	}
	return nil
}

// UnknownPolicies returns field=policy pairs whose policy the normalizer will treat as trim.
func (r *IdentityRule) UnknownPolicies() []string {
	var out []string
	for _, f := range r.KeyFields {
		if p, ok := r.NormalizationRules[f]; ok && !IsKnownPolicy(p) {
			out = append(out, f+"="+p)
		}
	}
	return out
}
