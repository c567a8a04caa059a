// Package audit logs security-relevant events in structured JSON so they can
// be shipped to a SIEM alongside the engine's regular logs.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a source registration field.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventIdentifierRejected is logged when a table or column name is not in the source catalog.
	EventIdentifierRejected SecurityEventType = "identifier_rejected"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// SecurityEvent is the JSON document emitted for every audited event.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	SourceName string            `json:"source_name,omitempty"`
	SourceDBID *uuid.UUID        `json:"source_db_id,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"`
}

// InjectionDetails names the flagged field. The value itself is never logged.
type InjectionDetails struct {
	Field       string `json:"field"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// IdentifierDetails describes an identifier refused by the catalog allow-list.
type IdentifierDetails struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// SecurityAuditor logs security events under the "security_audit" logger name.
type SecurityAuditor struct {
	logger *zap.Logger
}

func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a registration rejected by injection screening.
// Logged at ERROR with critical severity.
func (a *SecurityAuditor) LogInjectionAttempt(sourceName string, details []InjectionDetails) {
	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventSQLInjectionAttempt,
		SourceName: sourceName,
		Details:    details,
		Severity:   SeverityCritical,
	}

	fields := make([]string, len(details))
	for i, d := range details {
		fields[i] = d.Field
	}

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", marshal(event)),
		zap.String("source_name", sourceName),
		zap.Strings("fields", fields),
		zap.String("severity", SeverityCritical),
	)
}

// LogIdentifierRejected records a table or column name that failed the
// catalog check. These are usually typos, so the level is WARN.
func (a *SecurityAuditor) LogIdentifierRejected(sourceDBID uuid.UUID, identifier, reason string) {
	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventIdentifierRejected,
		SourceDBID: &sourceDBID,
		Details:    IdentifierDetails{Identifier: identifier, Reason: reason},
		Severity:   SeverityWarning,
	}

	a.logger.Warn("Identifier rejected",
		zap.String("event_json", marshal(event)),
		zap.String("source_db_id", sourceDBID.String()),
		zap.String("identifier", identifier),
		zap.String("reason", reason),
		zap.String("severity", SeverityWarning),
	)
}

func marshal(event SecurityEvent) string {
	// Marshaling these known types cannot fail.
	b, _ := json.Marshal(event)
	return string(b)
}
