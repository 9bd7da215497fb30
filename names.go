package polystore

import (
	"strings"
	"unicode"
)

// Driver names.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// TableName converts a logical model name to its physical table/collection
// name: lower-case, snake_case, pluralized. "ServerConfig" becomes
// "server_configs".
func TableName(model string) string {
	return Pluralize(SnakeCase(model))
}

// SnakeCase converts CamelCase or mixedCase to snake_case. Acronym runs are
// kept together: "HTTPServer" becomes "http_server".
func SnakeCase(s string) string {
	var b strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		if r == ' ' || r == '-' {
			b.WriteByte('_')

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// Pluralize applies the naming convention's pluralization rules.
func Pluralize(s string) string {
	if s == "" {
		return s
	}

	switch {
	case strings.HasSuffix(s, "y") && !hasVowelBeforeY(s):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(s, "s"),
		strings.HasSuffix(s, "x"),
		strings.HasSuffix(s, "z"),
		strings.HasSuffix(s, "ch"),
		strings.HasSuffix(s, "sh"):
		return s + "es"
	default:
		return s + "s"
	}
}

func hasVowelBeforeY(s string) bool {
	if len(s) < 2 {
		return false
	}

	return strings.ContainsRune("aeiou", rune(s[len(s)-2]))
}
