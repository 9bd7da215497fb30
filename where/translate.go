package where

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TranslateError reports an operator used with the wrong operand arity or
// type, or a structurally invalid AST. Always a caller bug, never retried.
type TranslateError struct {
	Op     string
	Reason string
}

func (e *TranslateError) Error() string {
	return "where: " + e.Op + ": " + e.Reason
}

func translateErr(op, reason string) error {
	return &TranslateError{Op: op, Reason: reason}
}

// Comparison operator mapping to document-query form. "=" is absent on
// purpose: equality is expressed directly as field: value.
var docOps = map[string]string{
	"!=": "$ne",
	"<>": "$ne",
	">":  "$gt",
	">=": "$gte",
	"<":  "$lt",
	"<=": "$lte",
}

// ToFilter parses a WHERE-clause string and translates it into a
// document-query filter.
func ToFilter(input string) (bson.M, error) {
	expr, err := Parse(input)
	if err != nil {
		return nil, err
	}

	return Translate(expr)
}

// Translate compiles an AST into a document-query filter. It is a pure
// function: the same AST always yields a structurally identical filter.
func Translate(e *Expr) (bson.M, error) {
	if e == nil {
		return nil, translateErr("OR", "nil expression")
	}

	children, err := translateList(e.Left, e.Rest, translateAnd)
	if err != nil {
		return nil, err
	}

	return combine("$or", children), nil
}

func translateAnd(e *AndExpr) (bson.M, error) {
	if e == nil {
		return nil, translateErr("AND", "nil expression")
	}

	children, err := translateList(e.Left, e.Rest, translateUnary)
	if err != nil {
		return nil, err
	}

	return combine("$and", children), nil
}

func translateList[T any](left T, rest []T, f func(T) (bson.M, error)) ([]bson.M, error) {
	out := make([]bson.M, 0, len(rest)+1)

	first, err := f(left)
	if err != nil {
		return nil, err
	}

	out = append(out, first)

	for _, node := range rest {
		child, err := f(node)
		if err != nil {
			return nil, err
		}

		out = append(out, child)
	}

	return out, nil
}

func combine(op string, children []bson.M) bson.M {
	if len(children) == 1 {
		return children[0]
	}

	arr := make(bson.A, len(children))
	for i, c := range children {
		arr[i] = c
	}

	return bson.M{op: arr}
}

func translateUnary(e *UnaryExpr) (bson.M, error) {
	if e == nil {
		return nil, translateErr("NOT", "nil expression")
	}

	// The document query form has no first-class unary NOT, so negation is
	// a "none of" combinator over a single-element list.
	if e.Not != nil {
		child, err := translateUnary(e.Not)
		if err != nil {
			return nil, err
		}

		return bson.M{"$nor": bson.A{child}}, nil
	}

	if e.Primary == nil {
		return nil, translateErr("NOT", "empty unary expression")
	}

	if e.Primary.Group != nil {
		return Translate(e.Primary.Group)
	}

	return translateComparison(e.Primary.Cmp)
}

func translateComparison(c *Comparison) (bson.M, error) {
	if c == nil || c.Rhs == nil {
		return nil, translateErr("comparison", "missing operand")
	}

	field := c.Field

	switch rhs := c.Rhs; {
	case rhs.Is != nil:
		if rhs.Is.Not {
			return bson.M{field: bson.M{"$ne": nil}}, nil
		}

		return bson.M{field: nil}, nil

	case rhs.Between != nil:
		return translateBetween(field, rhs.Between)

	case rhs.In != nil:
		if len(rhs.In.Values) == 0 {
			return nil, translateErr("IN", "operand must be a non-empty list")
		}

		values := make(bson.A, len(rhs.In.Values))
		for i, v := range rhs.In.Values {
			values[i] = v.Interface()
		}

		op := "$in"
		if rhs.In.Not {
			op = "$nin"
		}

		return bson.M{field: bson.M{op: values}}, nil

	case rhs.Like != nil:
		return bson.M{field: primitive.Regex{
			Pattern: "^" + likePattern(rhs.Like.Pattern) + "$",
			Options: "i",
		}}, nil

	case rhs.Bin != nil:
		value := rhs.Bin.Value.Interface()

		if rhs.Bin.Op == "=" {
			return bson.M{field: value}, nil
		}

		op, ok := docOps[rhs.Bin.Op]
		if !ok {
			return nil, translateErr(rhs.Bin.Op, "unsupported operator")
		}

		return bson.M{field: bson.M{op: value}}, nil

	default:
		return nil, translateErr("comparison", "missing operand")
	}
}

func translateBetween(field string, b *BetweenClause) (bson.M, error) {
	if b.Lo == nil || b.Hi == nil {
		return nil, translateErr("BETWEEN", "operand must be a 2-element range")
	}

	lo, hi := b.Lo.Interface(), b.Hi.Interface()

	if b.Not {
		// Outside the inclusive range: an OR of two half-open comparisons.
		return bson.M{"$or": bson.A{
			bson.M{field: bson.M{"$lt": lo}},
			bson.M{field: bson.M{"$gt": hi}},
		}}, nil
	}

	return bson.M{field: bson.M{"$gte": lo, "$lte": hi}}, nil
}

// likePattern converts a SQL LIKE pattern into a regular expression body:
// % matches any run, _ matches one character, everything else literally.
func likePattern(pattern string) string {
	var b strings.Builder

	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	return b.String()
}
