package where

import (
	"github.com/alecthomas/participle/v2"
)

// sqlLexer is the custom lexer for WHERE-clause expressions.
// Implements lexer.Definition for full control over tokenization.
var sqlLexer = newSQLLexer()

var parser = participle.MustBuild[Expr](
	participle.Lexer(sqlLexer),
	participle.CaseInsensitive("Ident"),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2), //nolint:mnd // NOT BETWEEN vs NOT IN
)

// Parse parses a WHERE-clause expression and returns its AST. Malformed
// expressions fail with a syntax error carrying the source position; they
// are never silently coerced.
func Parse(input string) (*Expr, error) {
	return parser.ParseString("", input)
}
