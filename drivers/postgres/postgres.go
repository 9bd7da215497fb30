// Package postgres provides the PostgreSQL polystore driver: the shared
// relational base wired to lib/pq with PostgreSQL placeholder and quoting
// rules.
package postgres

import (
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // database/sql driver
	"go.uber.org/zap"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/drivers/sqlbase"
)

// ErrNoConfig is returned when the configuration has no postgres section.
var ErrNoConfig = errors.New("postgres: missing postgres configuration")

// Register adds the postgres driver to a registry.
func Register(r *polystore.Registry) {
	r.Add(polystore.DriverPostgres, func(cfg *polystore.Config) (polystore.Driver, error) {
		if cfg == nil || cfg.Postgres == nil {
			return nil, ErrNoConfig
		}

		return New(cfg.Postgres.DSN(), nil), nil
	})
}

// New creates a PostgreSQL driver for the given connection string.
// The connection is not opened until Connect.
func New(dsn string, log *zap.Logger) *sqlbase.DB {
	return sqlbase.New(polystore.DriverPostgres, "postgres", dsn, Dialect{}, log)
}

// Dialect implements sqlbase.Dialect for PostgreSQL.
type Dialect struct{}

// Name returns the dialect identifier.
func (Dialect) Name() string { return polystore.DriverPostgres }

// Placeholder renders PostgreSQL's positional placeholders: $1, $2, ...
func (Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// QuoteIdent double-quotes an identifier, doubling embedded quotes.
func (Dialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// SupportsReturning reports RETURNING support; PostgreSQL has it, so
// inserts fetch the persisted row back in one round trip.
func (Dialect) SupportsReturning() bool { return true }

// Compile-time interface check.
var _ sqlbase.Dialect = Dialect{}
