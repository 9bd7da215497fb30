package polystore

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrDriverNotRegistered is returned by Registry.Get for unknown names.
	ErrDriverNotRegistered = errors.New("polystore: driver not registered")

	// ErrNotConnected is returned when an operation is attempted on a driver
	// that is disconnected or was never connected.
	ErrNotConnected = errors.New("polystore: driver not connected")

	// ErrMissingDriver is returned by NewModel when no driver is supplied.
	ErrMissingDriver = errors.New("polystore: model requires a driver")

	// ErrMissingSchema is returned by NewModel when no schema is supplied.
	ErrMissingSchema = errors.New("polystore: model requires a schema")

	// ErrMissingTable is returned by NewModel when the table name is empty.
	ErrMissingTable = errors.New("polystore: model requires a table name")

	// ErrNotFound is returned by FindByID and UpdateOne when no record
	// matches the given key.
	ErrNotFound = errors.New("polystore: record not found")

	// ErrConfigNotFound is returned when no .polystore.yaml is found.
	ErrConfigNotFound = errors.New("polystore: no .polystore.yaml found")
)

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError is raised by model mutating verbs when schema validation
// fails. No backend call is made when this error is returned.
type ValidationError struct {
	Model  string
	Method string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}

	return fmt.Sprintf("polystore: %s.%s: validation failed: %s",
		e.Model, e.Method, strings.Join(msgs, "; "))
}

// SchemaError reports a contract violation detected while building a schema,
// such as an index referencing an undeclared field or a second primary key.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return "polystore: schema: " + e.Field + ": " + e.Reason
	}

	return "polystore: schema: " + e.Reason
}
