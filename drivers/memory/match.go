package memory

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miketerry-org/polystore"
)

// match evaluates a document-query filter against one record. It covers the
// operator set the predicate translator emits, plus $exists for structural
// callers.
func match(rec polystore.Record, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			if !matchAll(rec, cond) {
				return false
			}
		case "$or":
			if !matchAny(rec, cond) {
				return false
			}
		case "$nor":
			if matchAny(rec, cond) {
				return false
			}
		default:
			if !matchField(rec, key, cond) {
				return false
			}
		}
	}

	return true
}

func asFilterList(cond any) []bson.M {
	var out []bson.M

	appendOne := func(v any) {
		switch m := v.(type) {
		case bson.M:
			out = append(out, m)
		case map[string]any:
			out = append(out, bson.M(m))
		}
	}

	switch list := cond.(type) {
	case bson.A:
		for _, v := range list {
			appendOne(v)
		}
	case []any:
		for _, v := range list {
			appendOne(v)
		}
	case []bson.M:
		out = list
	default:
		appendOne(cond)
	}

	return out
}

func matchAll(rec polystore.Record, cond any) bool {
	for _, f := range asFilterList(cond) {
		if !match(rec, f) {
			return false
		}
	}

	return true
}

func matchAny(rec polystore.Record, cond any) bool {
	for _, f := range asFilterList(cond) {
		if match(rec, f) {
			return true
		}
	}

	return false
}

func matchField(rec polystore.Record, field string, cond any) bool {
	actual, present := rec[field]

	switch c := cond.(type) {
	case bson.M:
		return matchOps(actual, present, map[string]any(c))
	case map[string]any:
		return matchOps(actual, present, c)
	case primitive.Regex:
		return present && matchRegex(actual, c)
	default:
		// Direct equality. A missing field matches a nil comparison, which
		// is how IS NULL behaves on document stores.
		if cond == nil {
			return !present || actual == nil
		}

		return present && looseEqual(actual, cond)
	}
}

func matchOps(actual any, present bool, ops map[string]any) bool {
	for op, operand := range ops {
		switch op {
		case "$ne":
			if operand == nil {
				if !present || actual == nil {
					return false
				}

				continue
			}

			if present && looseEqual(actual, operand) {
				return false
			}
		case "$gt":
			if !present || !cmpHolds(actual, operand, func(c int) bool { return c > 0 }) {
				return false
			}
		case "$gte":
			if !present || !cmpHolds(actual, operand, func(c int) bool { return c >= 0 }) {
				return false
			}
		case "$lt":
			if !present || !cmpHolds(actual, operand, func(c int) bool { return c < 0 }) {
				return false
			}
		case "$lte":
			if !present || !cmpHolds(actual, operand, func(c int) bool { return c <= 0 }) {
				return false
			}
		case "$in":
			if !present || !contains(operand, actual) {
				return false
			}
		case "$nin":
			if present && contains(operand, actual) {
				return false
			}
		case "$regex":
			if !present || !matchRegexOperand(actual, operand, ops["$options"]) {
				return false
			}
		case "$options":
			// consumed by $regex
		case "$exists":
			want, _ := operand.(bool)
			if present != want {
				return false
			}
		default:
			return false
		}
	}

	return true
}

func contains(list any, v any) bool {
	switch l := list.(type) {
	case bson.A:
		for _, item := range l {
			if looseEqual(v, item) {
				return true
			}
		}
	case []any:
		for _, item := range l {
			if looseEqual(v, item) {
				return true
			}
		}
	}

	return false
}

func cmpHolds(a, b any, holds func(int) bool) bool {
	c, ok := compare(a, b)

	return ok && holds(c)
}

// compare orders two values when they are mutually comparable: numerically
// for numbers, lexically for strings.
func compare(a, b any) (int, bool) {
	if af, aok := toFloat64(a); aok {
		bf, bok := toFloat64(b)
		if !bok {
			return 0, false
		}

		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func matchRegex(actual any, re primitive.Regex) bool {
	return matchRegexOperand(actual, re.Pattern, re.Options)
}

func matchRegexOperand(actual, pattern, options any) bool {
	str, ok := actual.(string)
	if !ok {
		return false
	}

	patternStr, ok := pattern.(string)
	if !ok {
		if re, isRe := pattern.(primitive.Regex); isRe {
			patternStr, options = re.Pattern, re.Options
		} else {
			return false
		}
	}

	if opts, _ := options.(string); strings.Contains(opts, "i") {
		patternStr = "(?i)" + patternStr
	}

	re, err := regexp.Compile(patternStr)
	if err != nil {
		return false
	}

	return re.MatchString(str)
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// sortKey renders a value for the deterministic default ordering.
func sortKey(v any) string {
	return fmt.Sprint(v)
}
