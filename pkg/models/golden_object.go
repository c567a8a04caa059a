package models

import "time"

// SourceSystemScanner is the source system of candidate objects synthesized by the scanner.
const SourceSystemScanner = "scanner"

// GoldenObject is one source record folded into a golden identity.
// (SourceSystem, SourceID, ObjectType) is unique; GoldenID is shared by every
// record that resolves to the same entity.
type GoldenObject struct {
	GoldenID     string     `json:"golden_id"`
	SourceSystem string     `json:"source_system"`
	SourceID     string     `json:"source_id"`
	ObjectType   string     `json:"object_type"`
	Attributes   Attributes `json:"attributes"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MatchResult is the outcome of resolving one record.
type MatchResult struct {
	GoldenID string `json:"golden_id"`
	// RuleID is empty when no active rule applied.
	RuleID string `json:"rule_id,omitempty"`
	// Fallback is set when the id came from the source tuple instead of a rule.
	// Callers should treat it as a warning.
	Fallback bool `json:"fallback"`
	// Created is false when an existing row for the source tuple was overwritten.
	Created bool `json:"created"`
}
