package query

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// SelectColumn is a labeled column of a select statement
type SelectColumn struct {
	Expr  string
	Label string
}

// Select is a SELECT statement
type Select struct {
	columns []SelectColumn
	from    string
	where   []Fragment
	groupBy []string
	having  []Fragment
	orderBy []string
	limit   *int
	offset  *int
}

// NewSelect returns a select statement from the given source
func NewSelect(from string) *Select {
	return &Select{from: from}
}

// Clone returns a deep copy of the statement
func (s *Select) Clone() *Select {
	c := *s
	c.columns = append([]SelectColumn(nil), s.columns...)
	c.where = append([]Fragment(nil), s.where...)
	c.groupBy = append([]string(nil), s.groupBy...)
	c.having = append([]Fragment(nil), s.having...)
	c.orderBy = append([]string(nil), s.orderBy...)
	return &c
}

// Column adds a labeled column
func (s *Select) Column(expr, label string) *Select {
	s.columns = append(s.columns, SelectColumn{Expr: expr, Label: label})
	return s
}

// Columns returns the labeled columns in order
func (s *Select) Columns() []SelectColumn {
	return s.columns
}

// Where adds a predicate. Multiple predicates are joined with AND.
func (s *Select) Where(sql string, args ...interface{}) *Select {
	return s.WhereFragment(Frag(sql, args...))
}

// WhereFragment adds a predicate fragment
func (s *Select) WhereFragment(f Fragment) *Select {
	s.where = append(s.where, f)
	return s
}

// Having adds a predicate on aggregates. Multiple predicates are joined with AND.
func (s *Select) Having(sql string, args ...interface{}) *Select {
	return s.HavingFragment(Frag(sql, args...))
}

// HavingFragment adds a predicate fragment on aggregates
func (s *Select) HavingFragment(f Fragment) *Select {
	s.having = append(s.having, f)
	return s
}

// GroupBy adds grouping expressions, duplicates are ignored
func (s *Select) GroupBy(exprs ...string) *Select {
	for _, expr := range exprs {
		found := false
		for _, existing := range s.groupBy {
			if existing == expr {
				found = true
				break
			}
		}
		if !found {
			s.groupBy = append(s.groupBy, expr)
		}
	}
	return s
}

// Grouped returns true if the statement has a GROUP BY clause
func (s *Select) Grouped() bool {
	return len(s.groupBy) > 0
}

// OrderBy adds a sort term. Ascending terms sort nulls first,
// descending terms sort nulls last.
func (s *Select) OrderBy(expr string, descending bool) *Select {
	if descending {
		s.orderBy = append(s.orderBy, expr+" DESC NULLS LAST")
	} else {
		s.orderBy = append(s.orderBy, expr+" ASC NULLS FIRST")
	}
	return s
}

// Limit sets the LIMIT
func (s *Select) Limit(limit int) *Select {
	s.limit = &limit
	return s
}

// Offset sets the OFFSET
func (s *Select) Offset(offset int) *Select {
	s.offset = &offset
	return s
}

// Build returns the SQL and its arguments
func (s *Select) Build() (string, []interface{}) {
	var b builder
	b.raw("SELECT ")
	for i, c := range s.columns {
		if i > 0 {
			b.raw(", ")
		}
		b.raw(c.Expr)
		if c.Label != "" {
			b.raw(" AS " + pq.QuoteIdentifier(c.Label))
		}
	}
	b.raw(" FROM " + s.from)
	if len(s.where) > 0 {
		b.raw(" WHERE ")
		b.fragments(s.where, " AND ")
	}
	if len(s.groupBy) > 0 {
		b.raw(" GROUP BY " + strings.Join(s.groupBy, ", "))
	}
	if len(s.having) > 0 {
		b.raw(" HAVING ")
		b.fragments(s.having, " AND ")
	}
	if len(s.orderBy) > 0 {
		b.raw(" ORDER BY " + strings.Join(s.orderBy, ", "))
	}
	if s.limit != nil {
		b.raw(" LIMIT " + strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		b.raw(" OFFSET " + strconv.Itoa(*s.offset))
	}
	b.raw(";")
	return b.build()
}
