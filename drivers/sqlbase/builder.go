package sqlbase

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/where"
)

// Dialect captures what differs between relational backends.
type Dialect interface {
	// Name returns the dialect identifier.
	Name() string

	// Placeholder renders the parameter placeholder for a 1-based index.
	Placeholder(index int) string

	// QuoteIdent quotes a table or column identifier.
	QuoteIdent(ident string) string

	// SupportsReturning reports whether INSERT/UPDATE ... RETURNING works.
	SupportsReturning() bool
}

// builder generates parameterized SQL for one dialect. Values are always
// bound through placeholders, never interpolated into statement text.
type builder struct {
	dialect Dialect
}

// whereClause assembles a WHERE fragment from a criteria mapping (AND of
// equality predicates) or a WHERE-clause string (parsed and compiled with
// bound parameters). offset is the number of placeholders already used by
// the enclosing statement.
func (b builder) whereClause(filter any, offset int) (string, []any, error) {
	switch f := filter.(type) {
	case nil:
		return "", nil, nil

	case string:
		if strings.TrimSpace(f) == "" {
			return "", nil, nil
		}

		expr, err := where.Parse(f)
		if err != nil {
			return "", nil, err
		}

		return where.ToSQL(expr, func(i int) string {
			return b.dialect.Placeholder(i + offset)
		})

	case bson.M:
		return b.criteria(map[string]any(f), offset)

	case map[string]any:
		return b.criteria(f, offset)

	default:
		return "", nil, fmt.Errorf("sqlbase: unsupported filter type %T", filter)
	}
}

func (b builder) criteria(criteria map[string]any, offset int) (string, []any, error) {
	if len(criteria) == 0 {
		return "", nil, nil
	}

	fields := sortedKeys(criteria)

	var (
		parts []string
		args  []any
	)

	for _, field := range fields {
		value := criteria[field]
		if value == nil {
			parts = append(parts, b.dialect.QuoteIdent(field)+" IS NULL")

			continue
		}

		args = append(args, value)
		parts = append(parts, fmt.Sprintf("%s = %s",
			b.dialect.QuoteIdent(field), b.dialect.Placeholder(offset+len(args))))
	}

	return strings.Join(parts, " AND "), args, nil
}

func (b builder) insert(table string, rec polystore.Record, returning bool) (string, []any) {
	cols := sortedKeys(rec)

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))

	for i, col := range cols {
		quoted[i] = b.dialect.QuoteIdent(col)
		placeholders[i] = b.dialect.Placeholder(i + 1)
		args[i] = rec[col]
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.dialect.QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))

	if returning {
		stmt += " RETURNING *"
	}

	return stmt, args
}

func (b builder) sel(table string, filter any, opts *polystore.FindOptions) (string, []any, error) {
	clause, args, err := b.whereClause(filter, 0)
	if err != nil {
		return "", nil, err
	}

	stmt := "SELECT * FROM " + b.dialect.QuoteIdent(table)
	if clause != "" {
		stmt += " WHERE " + clause
	}

	if opts != nil {
		if len(opts.Sort) > 0 {
			orders := make([]string, len(opts.Sort))

			for i, sf := range opts.Sort {
				dir := " ASC"
				if sf.Desc {
					dir = " DESC"
				}

				orders[i] = b.dialect.QuoteIdent(sf.Field) + dir
			}

			stmt += " ORDER BY " + strings.Join(orders, ", ")
		}

		if opts.Limit > 0 {
			stmt += fmt.Sprintf(" LIMIT %d", opts.Limit)
		}

		if opts.Offset > 0 {
			stmt += fmt.Sprintf(" OFFSET %d", opts.Offset)
		}
	}

	return stmt, args, nil
}

func (b builder) update(table string, changes polystore.Record, filter any, returning bool) (string, []any, error) {
	cols := sortedKeys(changes)

	sets := make([]string, len(cols))
	args := make([]any, len(cols))

	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", b.dialect.QuoteIdent(col), b.dialect.Placeholder(i+1))
		args[i] = changes[col]
	}

	clause, whereArgs, err := b.whereClause(filter, len(args))
	if err != nil {
		return "", nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s", b.dialect.QuoteIdent(table), strings.Join(sets, ", "))
	if clause != "" {
		stmt += " WHERE " + clause
	}

	if returning {
		stmt += " RETURNING *"
	}

	return stmt, append(args, whereArgs...), nil
}

func (b builder) del(table string, filter any) (string, []any, error) {
	clause, args, err := b.whereClause(filter, 0)
	if err != nil {
		return "", nil, err
	}

	stmt := "DELETE FROM " + b.dialect.QuoteIdent(table)
	if clause != "" {
		stmt += " WHERE " + clause
	}

	return stmt, args, nil
}

func (b builder) count(table string, filter any) (string, []any, error) {
	clause, args, err := b.whereClause(filter, 0)
	if err != nil {
		return "", nil, err
	}

	stmt := "SELECT COUNT(*) FROM " + b.dialect.QuoteIdent(table)
	if clause != "" {
		stmt += " WHERE " + clause
	}

	return stmt, args, nil
}

// createIndex renders one CREATE INDEX statement for a schema descriptor.
// Primary indexes are skipped by the caller: the key belongs to the table
// definition.
func (b builder) createIndex(table string, idx polystore.Index) string {
	nameParts := make([]string, 0, len(idx.Fields)+1)
	cols := make([]string, len(idx.Fields))

	nameParts = append(nameParts, table)

	for i, f := range idx.Fields {
		nameParts = append(nameParts, f.Name)

		dir := " ASC"
		if f.Desc {
			dir = " DESC"
		}

		cols[i] = b.dialect.QuoteIdent(f.Name) + dir
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}

	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique,
		b.dialect.QuoteIdent("idx_"+strings.Join(nameParts, "_")),
		b.dialect.QuoteIdent(table),
		strings.Join(cols, ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
