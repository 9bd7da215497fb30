package where

import (
	"strings"
)

// Placeholders renders the parameter placeholder for a 1-based index,
// letting each relational dialect pick its style ("$1" vs "?").
type Placeholders func(index int) string

// ToSQL compiles an AST into a parameterized SQL WHERE fragment and its
// argument list. Values are never interpolated into the text; field names
// are safe by construction since the lexer only admits identifier runes.
func ToSQL(e *Expr, ph Placeholders) (string, []any, error) {
	c := &sqlCompiler{ph: ph}

	text, err := c.expr(e)
	if err != nil {
		return "", nil, err
	}

	return text, c.args, nil
}

type sqlCompiler struct {
	ph   Placeholders
	args []any
}

func (c *sqlCompiler) bind(value any) string {
	c.args = append(c.args, value)

	return c.ph(len(c.args))
}

func (c *sqlCompiler) expr(e *Expr) (string, error) {
	if e == nil {
		return "", translateErr("OR", "nil expression")
	}

	parts, err := joinParts(e.Left, e.Rest, c.and)
	if err != nil {
		return "", err
	}

	return strings.Join(parts, " OR "), nil
}

func (c *sqlCompiler) and(e *AndExpr) (string, error) {
	if e == nil {
		return "", translateErr("AND", "nil expression")
	}

	parts, err := joinParts(e.Left, e.Rest, c.unary)
	if err != nil {
		return "", err
	}

	return strings.Join(parts, " AND "), nil
}

func joinParts[T any](left T, rest []T, f func(T) (string, error)) ([]string, error) {
	parts := make([]string, 0, len(rest)+1)

	first, err := f(left)
	if err != nil {
		return nil, err
	}

	parts = append(parts, first)

	for _, node := range rest {
		part, err := f(node)
		if err != nil {
			return nil, err
		}

		parts = append(parts, part)
	}

	if len(parts) > 1 {
		for i, p := range parts {
			parts[i] = "(" + p + ")"
		}
	}

	return parts, nil
}

func (c *sqlCompiler) unary(e *UnaryExpr) (string, error) {
	if e == nil {
		return "", translateErr("NOT", "nil expression")
	}

	if e.Not != nil {
		child, err := c.unary(e.Not)
		if err != nil {
			return "", err
		}

		return "NOT (" + child + ")", nil
	}

	if e.Primary == nil {
		return "", translateErr("NOT", "empty unary expression")
	}

	if e.Primary.Group != nil {
		inner, err := c.expr(e.Primary.Group)
		if err != nil {
			return "", err
		}

		return "(" + inner + ")", nil
	}

	return c.comparison(e.Primary.Cmp)
}

func (c *sqlCompiler) comparison(cmp *Comparison) (string, error) {
	if cmp == nil || cmp.Rhs == nil {
		return "", translateErr("comparison", "missing operand")
	}

	field := cmp.Field

	switch rhs := cmp.Rhs; {
	case rhs.Is != nil:
		if rhs.Is.Not {
			return field + " IS NOT NULL", nil
		}

		return field + " IS NULL", nil

	case rhs.Between != nil:
		if rhs.Between.Lo == nil || rhs.Between.Hi == nil {
			return "", translateErr("BETWEEN", "operand must be a 2-element range")
		}

		op := " BETWEEN "
		if rhs.Between.Not {
			op = " NOT BETWEEN "
		}

		lo := c.bind(rhs.Between.Lo.Interface())
		hi := c.bind(rhs.Between.Hi.Interface())

		return field + op + lo + " AND " + hi, nil

	case rhs.In != nil:
		if len(rhs.In.Values) == 0 {
			return "", translateErr("IN", "operand must be a non-empty list")
		}

		placeholders := make([]string, len(rhs.In.Values))
		for i, v := range rhs.In.Values {
			placeholders[i] = c.bind(v.Interface())
		}

		op := " IN ("
		if rhs.In.Not {
			op = " NOT IN ("
		}

		return field + op + strings.Join(placeholders, ", ") + ")", nil

	case rhs.Like != nil:
		return field + " LIKE " + c.bind(rhs.Like.Pattern), nil

	case rhs.Bin != nil:
		op := rhs.Bin.Op
		if op == "<>" {
			op = "!="
		}

		value := rhs.Bin.Value.Interface()
		if value == nil {
			// SQL three-valued logic: "= NULL" never matches.
			if op == "=" {
				return field + " IS NULL", nil
			}

			if op == "!=" {
				return field + " IS NOT NULL", nil
			}
		}

		return field + " " + op + " " + c.bind(value), nil

	default:
		return "", translateErr("comparison", "missing operand")
	}
}
