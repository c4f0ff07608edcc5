// Package sqlstore implements the healthcore persistence contracts over
// database/sql. Entities are stored as JSON payloads next to the columns the
// validators filter on; sqlite and postgres share the same statements and
// differ only in placeholder syntax.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect describes the syntax differences between supported databases.
type Dialect struct {
	Name      string
	numbered  bool
	unbounded string
}

// Supported dialects.
var (
	Postgres = Dialect{Name: "postgres", numbered: true, unbounded: "ALL"}
	SQLite   = Dialect{Name: "sqlite", unbounded: "-1"}
)

// Placeholder renders the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Builder assembles a parametrized statement. Every value reaches the
// database as a bind argument.
type Builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
	where   bool
}

// Build starts a statement in dialect d.
func (d Dialect) Build(sql string, args ...any) *Builder {
	b := &Builder{dialect: d}
	return b.Write(sql, args...)
}

// Write appends sql, replacing each ? with the next placeholder bound to the
// matching arg.
func (b *Builder) Write(sql string, args ...any) *Builder {
	next := 0
	for _, r := range sql {
		if r == '?' && next < len(args) {
			b.args = append(b.args, args[next])
			b.sb.WriteString(b.dialect.Placeholder(len(b.args)))
			next++
			continue
		}
		b.sb.WriteRune(r)
	}
	return b
}

// And appends a condition to the WHERE clause.
func (b *Builder) And(cond string, args ...any) *Builder {
	if b.where {
		b.sb.WriteString(" AND ")
	} else {
		b.sb.WriteString(" WHERE ")
		b.where = true
	}
	return b.Write(cond, args...)
}

// In renders "column IN (...)". An empty list renders a false condition.
func In(column string, values []string) (string, []any) {
	if len(values) == 0 {
		return "1 = 0", nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return column + " IN (" + marks + ")", args
}

// AndIn appends "column IN (...)" to the WHERE clause.
func (b *Builder) AndIn(column string, values []string) *Builder {
	cond, args := In(column, values)
	return b.And(cond, args...)
}

// Page appends LIMIT/OFFSET for non-zero values.
func (b *Builder) Page(limit, offset int) *Builder {
	switch {
	case limit > 0:
		b.Write(" LIMIT ?", limit)
	case offset > 0:
		b.sb.WriteString(" LIMIT " + b.dialect.unbounded)
	}
	if offset > 0 {
		b.Write(" OFFSET ?", offset)
	}
	return b
}

// SQL returns the statement text and its bind arguments.
func (b *Builder) SQL() (string, []any) {
	return b.sb.String(), b.args
}
