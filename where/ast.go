// Package where parses relational WHERE-clause expressions and compiles
// them into backend-native filters: a document-query mapping for document
// stores, or a parameterized SQL fragment for relational ones.
//
// The AST is immutable after parsing and both compilers are pure functions
// of it, so everything here is safe for unbounded concurrent use.
package where

import "strconv"

// Expr is the root node: one or more AND-expressions joined by OR.
type Expr struct {
	Left *AndExpr   `parser:"@@"`
	Rest []*AndExpr `parser:"( 'OR' @@ )*"`
}

// AndExpr is one or more unary expressions joined by AND.
type AndExpr struct {
	Left *UnaryExpr   `parser:"@@"`
	Rest []*UnaryExpr `parser:"( 'AND' @@ )*"`
}

// UnaryExpr is an optionally negated primary.
type UnaryExpr struct {
	Not     *UnaryExpr `parser:"  'NOT' @@"`
	Primary *Primary   `parser:"| @@"`
}

// Primary is a parenthesized group or a leaf comparison.
type Primary struct {
	Group *Expr       `parser:"  '(' @@ ')'"`
	Cmp   *Comparison `parser:"| @@"`
}

// Comparison is a leaf: a field followed by one comparison form.
type Comparison struct {
	Field string   `parser:"@Ident"`
	Rhs   *CompRHS `parser:"@@"`
}

// CompRHS is the right-hand side of a comparison.
type CompRHS struct {
	Is      *IsClause      `parser:"  @@"`
	Between *BetweenClause `parser:"| @@"`
	In      *InClause      `parser:"| @@"`
	Like    *LikeClause    `parser:"| @@"`
	Bin     *BinClause     `parser:"| @@"`
}

// IsClause is IS [NOT] NULL.
type IsClause struct {
	Not bool `parser:"'IS' @'NOT'? 'NULL'"`
}

// BetweenClause is [NOT] BETWEEN lo AND hi, bounds inclusive.
type BetweenClause struct {
	Not bool   `parser:"@'NOT'? 'BETWEEN'"`
	Lo  *Value `parser:"@@"`
	Hi  *Value `parser:"'AND' @@"`
}

// InClause is [NOT] IN (v, ...). The operand must be a parenthesized list.
type InClause struct {
	Not    bool     `parser:"@'NOT'? 'IN'"`
	Values []*Value `parser:"'(' @@ ( ',' @@ )* ')'"`
}

// LikeClause is LIKE 'pattern' with SQL wildcards % and _.
type LikeClause struct {
	Pattern string `parser:"'LIKE' @String"`
}

// BinClause is a binary comparison operator and its operand.
type BinClause struct {
	Op    string `parser:"@('=' | '!=' | '<>' | '<=' | '>=' | '<' | '>')"`
	Value *Value `parser:"@@"`
}

// Value is a literal operand.
type Value struct {
	Str   *string `parser:"  @String"`
	Num   *Number `parser:"| @Number"`
	True  bool    `parser:"| @'TRUE'"`
	False bool    `parser:"| @'FALSE'"`
	Null  bool    `parser:"| @'NULL'"`
}

// Interface returns the Go value of the literal: string, int64, float64,
// bool, or nil.
func (v *Value) Interface() any {
	switch {
	case v == nil:
		return nil
	case v.Str != nil:
		return *v.Str
	case v.Num != nil:
		return v.Num.value
	case v.True:
		return true
	case v.False:
		return false
	default:
		return nil
	}
}

// Number is a numeric literal, kept as int64 when the source text is
// integral so backends store what the caller wrote.
type Number struct {
	value any
}

// Capture implements participle's Capture interface.
func (n *Number) Capture(values []string) error {
	s := values[0]

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		n.value = i

		return nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}

	n.value = f

	return nil
}

// Int64 reports the value as int64 when it is one.
func (n *Number) Int64() (int64, bool) {
	i, ok := n.value.(int64)

	return i, ok
}
