package field

import "github.com/lib/pq"

// Expr is a storage expression, either a table column or a computed SQL expression
type Expr interface {
	// SQL returns the expression as it appears in a query
	SQL() string
	// Table returns the table owning the expression
	Table() *Table
	// Aggregate returns true for aggregate expressions like count(...)
	Aggregate() bool
}

// Column is a column of a table
type Column struct {
	table *Table
	name  string
}

// SQL returns the qualified, quoted column
func (c Column) SQL() string {
	return c.table.SQL() + "." + pq.QuoteIdentifier(c.name)
}

// Table returns the owning table
func (c Column) Table() *Table {
	return c.table
}

// Aggregate returns false
func (c Column) Aggregate() bool {
	return false
}

// Name returns the unqualified column name
func (c Column) Name() string {
	return c.name
}

// Computed is a SQL expression evaluated on an owning table,
// e.g. concat(authors.first_name, ' ', authors.last_name)
type Computed struct {
	owner     *Table
	sql       string
	aggregate bool
}

// Expression returns a computed expression owned by owner
func Expression(owner *Table, sql string) Computed {
	return Computed{owner: owner, sql: sql}
}

// AggregateExpression returns a computed aggregate expression owned by owner,
// e.g. count(books.id)
func AggregateExpression(owner *Table, sql string) Computed {
	return Computed{owner: owner, sql: sql, aggregate: true}
}

// SQL returns the expression
func (c Computed) SQL() string {
	return c.sql
}

// Table returns the owning table
func (c Computed) Table() *Table {
	return c.owner
}

// Aggregate returns true for aggregate expressions
func (c Computed) Aggregate() bool {
	return c.aggregate
}
