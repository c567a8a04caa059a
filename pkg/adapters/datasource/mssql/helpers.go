package mssql

import "strings"

// quoteName brackets an identifier the way QUOTENAME() does, escaping ] as ]].
func quoteName(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

// qualifiedTableName returns [schema].[table], defaulting the schema to dbo.
func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		schemaName = "dbo"
	}
	return quoteName(schemaName) + "." + quoteName(tableName)
}
