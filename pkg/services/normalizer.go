package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ekaya-inc/golden-engine/pkg/jsonutil"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// Normalize renders value as a canonical string under policy. nil yields "".
// Every policy trims surrounding whitespace first; unknown policies only trim.
func Normalize(value any, policy string) string {
	if value == nil {
		return ""
	}
	s := strings.TrimSpace(jsonutil.StringValue(value))

	switch policy {
	case models.PolicyLowercase:
		return cases.Lower(language.Und).String(s)
	case models.PolicyUppercase:
		return cases.Upper(language.Und).String(s)
	case models.PolicyDigitsOnly:
		return keep(s, unicode.IsDigit)
	case models.PolicyAlphanumericOnly:
		return keep(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) })
	default:
		return s
	}
}

func keep(s string, pred func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if pred(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
