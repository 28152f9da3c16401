package field

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Table declares a relational table with its primary key and foreign keys
type Table struct {
	Name        string
	PrimaryKey  string
	ForeignKeys []ForeignKey
}

// ForeignKey is a column of a table referencing a column of another table
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// References returns a foreign key on column referencing the primary key "id" of table
func References(column, table string) ForeignKey {
	return ForeignKey{Column: column, RefTable: table, RefColumn: "id"}
}

// NewTable returns a table with primary key "id" and the given foreign keys
func NewTable(name string, foreignKeys ...ForeignKey) *Table {
	return &Table{Name: name, PrimaryKey: "id", ForeignKeys: foreignKeys}
}

// SQL returns the quoted table name
func (t *Table) SQL() string {
	return pq.QuoteIdentifier(t.Name)
}

// Column returns the storage expression for a column of this table
func (t *Table) Column(name string) Column {
	return Column{table: t, name: name}
}

// ID returns the storage expression for the primary key
func (t *Table) ID() Column {
	return t.Column(t.PrimaryKey)
}

// ForeignKeysTo returns all foreign keys of t which reference the table named other
func (t *Table) ForeignKeysTo(other string) []ForeignKey {
	var fks []ForeignKey
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == other {
			fks = append(fks, fk)
		}
	}
	return fks
}

// Join is a join of a table to a select source
type Join struct {
	Table *Table
	On    string
	Outer bool
}

// LeftJoin returns a left outer join of table with the condition on
func LeftJoin(table *Table, on string) Join {
	return Join{Table: table, On: on, Outer: true}
}

// InnerJoin returns an inner join of table with the condition on
func InnerJoin(table *Table, on string) Join {
	return Join{Table: table, On: on}
}

// SQL returns the join clause
func (j Join) SQL() string {
	kind := "JOIN"
	if j.Outer {
		kind = "LEFT OUTER JOIN"
	}
	return fmt.Sprintf("%s %s ON %s", kind, j.Table.SQL(), j.On)
}

// FromClause returns the FROM source for base joined with joins
func FromClause(base *Table, joins []Join) string {
	parts := []string{base.SQL()}
	for _, j := range joins {
		parts = append(parts, j.SQL())
	}
	return strings.Join(parts, " ")
}
