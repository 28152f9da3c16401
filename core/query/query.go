/*Package query provides the SQL statements of the read and write pipelines.

Statements are assembled from SQL fragments. Fragments use ? as placeholder for
their arguments; Build renumbers them into postgres placeholders $1, $2, ...
in the order the fragments appear in the statement.
*/
package query

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Fragment is a piece of SQL with its arguments
type Fragment struct {
	SQL  string
	Args []interface{}
}

// Frag returns a new fragment
func Frag(sql string, args ...interface{}) Fragment {
	return Fragment{SQL: sql, Args: args}
}

// In returns the fragment "expr IN (?, ?, ...)". An empty list matches nothing.
func In(expr string, values []interface{}) Fragment {
	if len(values) == 0 {
		return Frag("false")
	}
	return Frag(expr+" IN ("+placeholders(len(values))+")", values...)
}

// Any returns the fragment "expr = ANY(?)" with values passed as one postgres array
func Any(expr string, values interface{}) Fragment {
	return Frag(expr+" = ANY(?)", pq.Array(values))
}

// And joins fragments with AND
func And(fragments ...Fragment) Fragment {
	if len(fragments) == 1 {
		return fragments[0]
	}
	var result Fragment
	sqls := make([]string, len(fragments))
	for i, f := range fragments {
		sqls[i] = "(" + f.SQL + ")"
		result.Args = append(result.Args, f.Args...)
	}
	result.SQL = strings.Join(sqls, " AND ")
	return result
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// builder accumulates a statement and renumbers placeholders
type builder struct {
	sb   strings.Builder
	args []interface{}
}

func (b *builder) raw(s string) {
	b.sb.WriteString(s)
}

func (b *builder) fragment(f Fragment) {
	arg := 0
	for _, r := range f.SQL {
		if r == '?' && arg < len(f.Args) {
			b.args = append(b.args, f.Args[arg])
			arg++
			b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
			continue
		}
		b.sb.WriteRune(r)
	}
}

func (b *builder) fragments(fs []Fragment, sep string) {
	for i, f := range fs {
		if i > 0 {
			b.raw(sep)
		}
		if len(fs) > 1 {
			b.raw("(")
			b.fragment(f)
			b.raw(")")
		} else {
			b.fragment(f)
		}
	}
}

func (b *builder) build() (string, []interface{}) {
	return b.sb.String(), b.args
}

func quoteAll(identifiers []string) []string {
	quoted := make([]string, len(identifiers))
	for i, id := range identifiers {
		quoted[i] = pq.QuoteIdentifier(id)
	}
	return quoted
}
