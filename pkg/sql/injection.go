package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a field whose value looks like SQL injection.
type InjectionCheckResult struct {
	Field       string
	Fingerprint string // libinjection token fingerprint
}

// CheckValueForInjection runs libinjection over one value. Returns nil when clean.
func CheckValueForInjection(field, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{Field: field, Fingerprint: string(fingerprint)}
}

// CheckFieldsForInjection checks every value and returns the failures ordered by field name.
func CheckFieldsForInjection(fields map[string]string) []*InjectionCheckResult {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		if r := CheckValueForInjection(name, fields[name]); r != nil {
			results = append(results, r)
		}
	}
	return results
}
