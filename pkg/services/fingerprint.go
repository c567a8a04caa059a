package services

import (
	"crypto/sha1" //nolint:gosec // golden ids are SHA-1 by contract, not for security
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// ComputeFingerprint derives a golden id from the key fields of record.
// Each field contributes "field:normalized"; the parts are sorted, joined with
// "|" and hashed, so the result does not depend on key field order.
// Missing fields normalize to "". Fields without a policy use trim.
func ComputeFingerprint(record map[string]any, keyFields []string, policies map[string]string) string {
	parts := make([]string, 0, len(keyFields))
	for _, field := range keyFields {
		policy := policies[field]
		if policy == "" {
			policy = models.PolicyTrim
		}
		parts = append(parts, field+":"+Normalize(record[field], policy))
	}
	sort.Strings(parts)
	return sha1Hex(strings.Join(parts, "|"))
}

// FallbackFingerprint is the id used when no identity rule applies: the hash of
// "sourceSystem|sourceID|objectType".
func FallbackFingerprint(sourceSystem, sourceID, objectType string) string {
	return sha1Hex(sourceSystem + "|" + sourceID + "|" + objectType)
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
