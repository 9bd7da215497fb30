package polystore

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FieldType identifies the declared type of a schema field.
type FieldType string

// Field type constants.
const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeEnum     FieldType = "enum"
	TypeEmail    FieldType = "email"
	TypePassword FieldType = "password"
)

// DefaultPrimaryKey is the primary-key field name used when none is declared.
const DefaultPrimaryKey = "id"

const defaultPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// FieldOptions configures a single schema field.
type FieldOptions struct {
	// Required fails validation when the field is absent and has no default.
	Required bool

	// Default is applied when the input omits the field.
	Default any

	// MinLength / MaxLength bound string lengths.
	MinLength *int
	MaxLength *int

	// Min / Max bound numeric values.
	Min *float64
	Max *float64

	// Enum restricts the value to this set. Implied for Enum() fields.
	Enum []any

	// Check is a custom validator, run after all built-in checks.
	Check func(value any) error

	// Rule is an expression over `value` that must evaluate to true,
	// e.g. "value >= 0 && value % 2 == 0". Compiled once at declaration.
	Rule string
}

// Field is one declared schema field.
type Field struct {
	Name string
	Type FieldType
	FieldOptions

	rule *vm.Program
}

// IndexField is one component of an index, with its ordering.
type IndexField struct {
	Name string
	Desc bool
}

// Index is a normalized index descriptor handed to drivers.
type Index struct {
	Fields  []IndexField
	Unique  bool
	Primary bool
}

// IndexOptions configures AddIndex.
type IndexOptions struct {
	Unique bool
}

// Result is the outcome of one Validate call. It is produced fresh on every
// call and never mutated after return.
type Result struct {
	Valid  bool
	Errors []FieldError

	// Value holds the normalized values of declared fields only; input keys
	// absent from the schema are dropped (strict projection).
	Value Record
}

// Schema is a declarative, backend-agnostic description of an entity's
// fields, constraints, and indexes. Built once at model definition time,
// immutable afterwards, and safe for unbounded concurrent Validate calls.
type Schema struct {
	fields   map[string]*Field
	order    []string
	indexes  []Index
	primary  string
	buildErr error
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]*Field)}
}

// AddField declares a field. Declaration problems (duplicate names, bad
// rules) are contract violations recorded at build time and surfaced by
// Check, not at validation time.
func (s *Schema) AddField(name string, typ FieldType, opts FieldOptions) *Schema {
	if _, dup := s.fields[name]; dup {
		s.fail(name, "field declared twice")

		return s
	}

	f := &Field{Name: name, Type: typ, FieldOptions: opts}

	if typ == TypeEnum && len(opts.Enum) == 0 {
		s.fail(name, "enum field requires values")

		return s
	}

	if opts.Rule != "" {
		program, err := expr.Compile(opts.Rule, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			s.fail(name, "invalid rule: "+err.Error())

			return s
		}

		f.rule = program
	}

	s.fields[name] = f
	s.order = append(s.order, name)

	return s
}

// ruleEnv is the environment rule expressions are compiled against.
type ruleEnv struct {
	Value any `expr:"value"`
}

// Typed convenience wrappers.

func (s *Schema) String(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypeString, opts)
}

func (s *Schema) Integer(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypeInteger, opts)
}

func (s *Schema) Number(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypeNumber, opts)
}

func (s *Schema) Boolean(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypeBoolean, opts)
}

func (s *Schema) Date(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypeDate, opts)
}

func (s *Schema) Enum(name string, values []any, opts FieldOptions) *Schema {
	opts.Enum = values

	return s.AddField(name, TypeEnum, opts)
}

func (s *Schema) Email(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypeEmail, opts)
}

func (s *Schema) Password(name string, opts FieldOptions) *Schema {
	return s.AddField(name, TypePassword, opts)
}

// AddPrimary designates name as the primary-key field and registers the
// matching unique index. A schema has at most one primary field.
func (s *Schema) AddPrimary(name string) *Schema {
	if s.primary != "" {
		s.fail(name, "schema already has primary field "+s.primary)

		return s
	}

	s.primary = name
	s.indexes = append(s.indexes, Index{
		Fields:  []IndexField{{Name: name}},
		Unique:  true,
		Primary: true,
	})

	return s
}

// AddIndex registers an index over declared fields. Referencing an
// undeclared field is a build-time contract violation.
func (s *Schema) AddIndex(fields []IndexField, opts IndexOptions) *Schema {
	if len(fields) == 0 {
		s.fail("", "index requires at least one field")

		return s
	}

	for _, f := range fields {
		if _, ok := s.fields[f.Name]; !ok && f.Name != s.primary {
			s.fail(f.Name, "index references undeclared field")

			return s
		}
	}

	s.indexes = append(s.indexes, Index{Fields: fields, Unique: opts.Unique})

	return s
}

// Check returns the first build-time contract violation, if any.
func (s *Schema) Check() error {
	return s.buildErr
}

// PrimaryKey returns the designated primary-key field name.
func (s *Schema) PrimaryKey() string {
	if s.primary == "" {
		return DefaultPrimaryKey
	}

	return s.primary
}

// Indexes returns the normalized index descriptors in declaration order.
func (s *Schema) Indexes() []Index {
	out := make([]Index, len(s.indexes))
	copy(out, s.indexes)

	return out
}

// HasField reports whether name is declared.
func (s *Schema) HasField(name string) bool {
	_, ok := s.fields[name]

	return ok
}

// FieldNames returns the declared field names in declaration order.
func (s *Schema) FieldNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)

	return out
}

// Project returns a copy of data restricted to declared fields. The primary
// key survives projection even when undeclared, since backends mint it.
func (s *Schema) Project(data Record) Record {
	out := make(Record, len(data))

	for k, v := range data {
		if s.HasField(k) || k == s.PrimaryKey() {
			out[k] = v
		}
	}

	return out
}

// Validate checks data against the schema. It never fails outright: the
// outcome, including every field error, is carried in the Result.
//
// Per field: apply the default when absent; fail "required" when still
// absent; skip silently when absent and optional; otherwise coerce to the
// declared type and run type, length, bounds, enum, and custom checks in
// that order. The first failure for a field stops further checks on that
// field only. Undeclared input keys are dropped from Value.
func (s *Schema) Validate(data Record) *Result {
	return s.validate(data, false)
}

// ValidatePartial checks only the fields present in data: defaults are not
// applied and absent required fields are not errors. Used for updates,
// where the input is a change set rather than a whole record.
func (s *Schema) ValidatePartial(data Record) *Result {
	return s.validate(data, true)
}

func (s *Schema) validate(data Record, partial bool) *Result {
	res := &Result{Valid: true, Value: make(Record, len(s.order))}

	for _, name := range s.order {
		f := s.fields[name]

		v, present := data[name]
		if !present && !partial && f.Default != nil {
			v, present = f.Default, true
		}

		if !present {
			if f.Required && !partial {
				res.add(name, "is required")
			}

			continue
		}

		normalized, msg := f.normalize(v)
		if msg == "" {
			msg = f.checkBounds(normalized)
		}

		if msg == "" {
			msg = f.checkCustom(normalized)
		}

		if msg != "" {
			res.add(name, msg)

			continue
		}

		res.Value[name] = normalized
	}

	if pk := s.PrimaryKey(); !s.HasField(pk) {
		if v, ok := data[pk]; ok {
			res.Value[pk] = v
		}
	}

	return res
}

func (r *Result) add(field, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Message: msg})
}

func (s *Schema) fail(field, reason string) {
	if s.buildErr == nil {
		s.buildErr = &SchemaError{Field: field, Reason: reason}
	}
}

// normalize coerces v to the field's declared type. It returns the
// normalized value, or a non-empty message when the value cannot be coerced.
func (f *Field) normalize(v any) (any, string) {
	switch f.Type {
	case TypeString, TypeEmail, TypePassword:
		str, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}

		str = strings.TrimSpace(str)
		if f.Type == TypeEmail && !emailPattern.MatchString(str) {
			return nil, "must be a valid email address"
		}

		return str, ""

	case TypeInteger:
		n, ok := toInt64(v)
		if !ok {
			return nil, "must be an integer"
		}

		return n, ""

	case TypeNumber:
		n, ok := toFloat64(v)
		if !ok {
			return nil, "must be a number"
		}

		return n, ""

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, ""
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, "must be a boolean"
			}

			return parsed, ""
		default:
			return nil, "must be a boolean"
		}

	case TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t, ""
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02"} {
				if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
					return parsed, ""
				}
			}

			return nil, "must be a date"
		default:
			return nil, "must be a date"
		}

	case TypeEnum:
		return v, ""

	default:
		return v, ""
	}
}

// checkBounds runs length, numeric-bound, and enum-membership checks.
func (f *Field) checkBounds(v any) string {
	if str, ok := v.(string); ok {
		minLen := f.MinLength
		if minLen == nil && f.Type == TypePassword {
			n := defaultPasswordLength
			minLen = &n
		}

		if minLen != nil && len(str) < *minLen {
			return fmt.Sprintf("must be at least %d characters", *minLen)
		}

		if f.MaxLength != nil && len(str) > *f.MaxLength {
			return fmt.Sprintf("must be at most %d characters", *f.MaxLength)
		}
	}

	if n, ok := toFloat64(v); ok {
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("must be at least %v", *f.Min)
		}

		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("must be at most %v", *f.Max)
		}
	}

	if len(f.Enum) > 0 {
		for _, allowed := range f.Enum {
			if looseEqual(v, allowed) {
				return ""
			}
		}

		return "must be one of the allowed values"
	}

	return ""
}

// checkCustom runs the Check handler, then the compiled rule expression.
func (f *Field) checkCustom(v any) string {
	if f.Check != nil {
		if err := f.Check(v); err != nil {
			return err.Error()
		}
	}

	if f.rule != nil {
		out, err := expr.Run(f.rule, ruleEnv{Value: v})
		if err != nil {
			return "rule error: " + err.Error()
		}

		if ok, _ := out.(bool); !ok {
			return "failed rule: " + f.Rule
		}
	}

	return ""
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}

		return 0, false
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}

		return 0, false
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
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
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

// looseEqual compares enum candidates without caring about numeric width.
func looseEqual(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			_, aStr := a.(string)
			_, bStr := b.(string)

			if !aStr && !bStr {
				return af == bf
			}
		}
	}

	return reflect.DeepEqual(a, b)
}
