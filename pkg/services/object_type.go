package services

import (
	"regexp"
	"strings"
)

var (
	tablePrefixPattern = regexp.MustCompile(`^(tbl_|tb_|t_|table_)`)
	tableSuffixPattern = regexp.MustCompile(`(_tbl|_table|_tb)$`)
)

// objectTypeSynonyms maps cleaned, singularized table names onto object types.
var objectTypeSynonyms = map[string]string{
	"customer":   "customer",
	"user":       "user",
	"account":    "account",
	"order":      "order",
	"product":    "product",
	"invoice":    "invoice",
	"contact":    "contact",
	"person":     "person",
	"people":     "person",
	"employee":   "employee",
	"vendor":     "vendor",
	"supplier":   "supplier",
	"client":     "customer",
	"member":     "user",
	"staff":      "employee",
	"purchase":   "order",
	"item":       "product",
	"sku":        "product",
	"bill":       "invoice",
	"partner":    "vendor",
	"provider":   "supplier",
	"individual": "person",
}

// GuessObjectType infers an object type from a table name: lower-cases it,
// strips one common prefix and one common suffix, drops a trailing "s", then
// maps through a fixed synonym table. Unmapped names are returned as cleaned;
// a name that cleans to nothing yields "unknown".
func GuessObjectType(tableName string) string {
	name := strings.ToLower(strings.TrimSpace(tableName))
	name = tablePrefixPattern.ReplaceAllString(name, "")
	name = tableSuffixPattern.ReplaceAllString(name, "")

	if len(name) > 1 && strings.HasSuffix(name, "s") {
		name = name[:len(name)-1]
	}

	if mapped, ok := objectTypeSynonyms[name]; ok {
		return mapped
	}
	if name == "" {
		return "unknown"
	}
	return name
}
