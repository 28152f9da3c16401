package query

import (
	"strings"

	"github.com/lib/pq"
)

type defaultValue struct{}

// Default marks a value of an inserted row for which the column default is used
var Default interface{} = defaultValue{}

// Insert is a multi-row INSERT statement
type Insert struct {
	table     string
	columns   []string
	rows      [][]interface{}
	returning string
}

// NewInsert returns an insert statement into table for the given columns
func NewInsert(table string, columns ...string) *Insert {
	return &Insert{table: table, columns: columns}
}

// Row adds a row. values must match the columns; use Default for column defaults.
func (s *Insert) Row(values ...interface{}) *Insert {
	s.rows = append(s.rows, values)
	return s
}

// Returning sets the RETURNING column
func (s *Insert) Returning(column string) *Insert {
	s.returning = column
	return s
}

// Build returns the SQL and its arguments
func (s *Insert) Build() (string, []interface{}) {
	var b builder
	b.raw("INSERT INTO " + pq.QuoteIdentifier(s.table))
	if len(s.columns) == 0 {
		b.raw(" DEFAULT VALUES")
	} else {
		b.raw(" (" + strings.Join(quoteAll(s.columns), ", ") + ") VALUES ")
		for i, row := range s.rows {
			if i > 0 {
				b.raw(", ")
			}
			b.raw("(")
			for j, value := range row {
				if j > 0 {
					b.raw(", ")
				}
				if value == Default {
					b.raw("DEFAULT")
				} else {
					b.fragment(Frag("?", value))
				}
			}
			b.raw(")")
		}
	}
	if s.returning != "" {
		b.raw(" RETURNING " + pq.QuoteIdentifier(s.returning))
	}
	b.raw(";")
	return b.build()
}

// UpdateFromValues is a batched UPDATE of many rows, keyed by one column:
//
//	UPDATE t SET c = v.c FROM (VALUES (...), (...)) AS v(id, c) WHERE t.id = v.id
//
// Every row must provide a value for every column.
type UpdateFromValues struct {
	table   string
	key     string
	keyType string
	columns []string
	types   []string
	rows    [][]interface{}
}

// NewUpdateFromValues returns a batched update of table keyed by key
func NewUpdateFromValues(table, key, keyType string) *UpdateFromValues {
	return &UpdateFromValues{table: table, key: key, keyType: keyType}
}

// Set adds a column with its postgres type. The type is used to cast the values.
func (s *UpdateFromValues) Set(column, sqlType string) *UpdateFromValues {
	s.columns = append(s.columns, column)
	s.types = append(s.types, sqlType)
	return s
}

// Row adds a row, the key followed by one value per column
func (s *UpdateFromValues) Row(key interface{}, values ...interface{}) *UpdateFromValues {
	s.rows = append(s.rows, append([]interface{}{key}, values...))
	return s
}

// Build returns the SQL and its arguments
func (s *UpdateFromValues) Build() (string, []interface{}) {
	var b builder
	table := pq.QuoteIdentifier(s.table)
	key := pq.QuoteIdentifier(s.key)
	b.raw("UPDATE " + table + " SET ")
	for i, c := range quoteAll(s.columns) {
		if i > 0 {
			b.raw(", ")
		}
		b.raw(c + " = v." + c)
	}
	b.raw(" FROM (VALUES ")
	types := append([]string{s.keyType}, s.types...)
	for i, row := range s.rows {
		if i > 0 {
			b.raw(", ")
		}
		b.raw("(")
		for j, value := range row {
			if j > 0 {
				b.raw(", ")
			}
			b.fragment(Frag("?::"+types[j], value))
		}
		b.raw(")")
	}
	b.raw(") AS v(" + key)
	for _, c := range quoteAll(s.columns) {
		b.raw(", " + c)
	}
	b.raw(") WHERE " + table + "." + key + " = v." + key + ";")
	return b.build()
}

// Update is an UPDATE statement with constant values
type Update struct {
	table string
	set   []Fragment
	where []Fragment
}

// NewUpdate returns an update of table
func NewUpdate(table string) *Update {
	return &Update{table: table}
}

// Set sets column to value
func (s *Update) Set(column string, value interface{}) *Update {
	s.set = append(s.set, Frag(pq.QuoteIdentifier(column)+" = ?", value))
	return s
}

// Where adds a predicate
func (s *Update) Where(f Fragment) *Update {
	s.where = append(s.where, f)
	return s
}

// Build returns the SQL and its arguments
func (s *Update) Build() (string, []interface{}) {
	var b builder
	b.raw("UPDATE " + pq.QuoteIdentifier(s.table) + " SET ")
	for i, f := range s.set {
		if i > 0 {
			b.raw(", ")
		}
		b.fragment(f)
	}
	if len(s.where) > 0 {
		b.raw(" WHERE ")
		b.fragments(s.where, " AND ")
	}
	b.raw(";")
	return b.build()
}

// Delete is a DELETE statement
type Delete struct {
	table string
	where []Fragment
}

// NewDelete returns a delete from table
func NewDelete(table string) *Delete {
	return &Delete{table: table}
}

// Where adds a predicate
func (s *Delete) Where(f Fragment) *Delete {
	s.where = append(s.where, f)
	return s
}

// Build returns the SQL and its arguments
func (s *Delete) Build() (string, []interface{}) {
	var b builder
	b.raw("DELETE FROM " + pq.QuoteIdentifier(s.table))
	if len(s.where) > 0 {
		b.raw(" WHERE ")
		b.fragments(s.where, " AND ")
	}
	b.raw(";")
	return b.build()
}
