package services

import (
	"strings"
	"unicode"
)

// IsBlacklisted reports whether tableName matches any of patterns, or starts
// with internalPrefix. Patterns are case-insensitive globs over the whole name:
// "%" and "*" match any run of characters, "?" matches exactly one.
// Everything else, including "_", is literal.
func IsBlacklisted(tableName string, patterns []string, internalPrefix string) bool {
	if internalPrefix != "" && globMatch(internalPrefix+"%", tableName) {
		return true
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if globMatch(p, tableName) {
			return true
		}
	}
	return false
}

// globMatch is an iterative wildcard matcher with single-star backtracking.
func globMatch(pattern, name string) bool {
	p := []rune(pattern)
	n := []rune(name)

	pi, ni := 0, 0
	star, mark := -1, 0
	for ni < len(n) {
		switch {
		case pi < len(p) && (p[pi] == '%' || p[pi] == '*'):
			star, mark = pi, ni
			pi++
		case pi < len(p) && (p[pi] == '?' || foldEqual(p[pi], n[ni])):
			pi++
			ni++
		case star >= 0:
			pi = star + 1
			mark++
			ni = mark
		default:
			return false
		}
	}
	for pi < len(p) && (p[pi] == '%' || p[pi] == '*') {
		pi++
	}
	return pi == len(p)
}

func foldEqual(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b)
}
