/*Package field provides the typed field descriptors of a resource.

A field maps a JSON-visible attribute onto a storage expression. There are four
kinds of fields:

	field.Scalar("title", field.String, books.Column("title"), field.Required())
	field.ToOne("author", "author", books.Column("author_id"))
	field.ToMany("tags", "tag", m2mBooksTags.Column("tag_id"))
	field.Choice("status", field.String, books.Column("status"), []interface{}{"draft", "published"})

The storage strategy of a to-many field is determined once by Resolve, when the
resource is registered.
*/
package field

import (
	"fmt"
)

// Kind is the kind of a field
type Kind int

// the field kinds
const (
	KindScalar Kind = iota
	KindToOne
	KindToMany
	KindChoice
)

func (k Kind) String() string {
	switch k {
	case KindToOne:
		return "to-one"
	case KindToMany:
		return "to-many"
	case KindChoice:
		return "choice"
	}
	return "scalar"
}

// Type is the value type of a field. For to-many fields it is the element type.
type Type int

// the value types
const (
	Int Type = iota
	Float
	String
	Bool
	Time
	IntArray
	StringArray
)

// SQLType returns the postgres type name
func (t Type) SQLType() string {
	switch t {
	case Float:
		return "double precision"
	case String:
		return "text"
	case Bool:
		return "boolean"
	case Time:
		return "timestamptz"
	case IntArray:
		return "bigint[]"
	case StringArray:
		return "text[]"
	}
	return "bigint"
}

// IsArray returns true for array types
func (t Type) IsArray() bool {
	return t == IntArray || t == StringArray
}

// Element returns the element type of an array type, and t itself otherwise
func (t Type) Element() Type {
	switch t {
	case IntArray:
		return Int
	case StringArray:
		return String
	}
	return t
}

// Visibility controls whether a field is read, written, or both
type Visibility int

// the visibilities
const (
	VisibilityReadWrite Visibility = iota
	VisibilityDumpOnly
	VisibilityLoadOnly
)

// Link is the storage strategy of a to-many field
type Link int

// the link strategies
const (
	// LinkNone is the link of every field which is not a to-many relation
	LinkNone Link = iota
	// LinkDirect means the related table holds a foreign key to the base table
	LinkDirect
	// LinkAssociation means the relation is bridged by an association table
	LinkAssociation
)

// Association describes an association table with its two foreign keys
type Association struct {
	Table *Table
	// Owner references the table of the resource declaring the field
	Owner ForeignKey
	// Target references the table of the related resource
	Target ForeignKey
}

// Field is the descriptor of a resource attribute
type Field struct {
	Name          string
	Kind          Kind
	Type          Type
	Expr          Expr
	Resource      string
	Visibility    Visibility
	Required      bool
	Nullable      bool
	AllowedValues []interface{}
	Description   string

	link        Link
	backref     *ForeignKey
	association *Association
}

// Option configures a field
type Option func(*Field)

// DumpOnly makes the field read-only
func DumpOnly() Option {
	return func(f *Field) { f.Visibility = VisibilityDumpOnly }
}

// LoadOnly makes the field write-only
func LoadOnly() Option {
	return func(f *Field) { f.Visibility = VisibilityLoadOnly }
}

// Required makes the field mandatory on create
func Required() Option {
	return func(f *Field) { f.Required = true }
}

// Nullable allows explicit null values on writes
func Nullable() Option {
	return func(f *Field) { f.Nullable = true }
}

// OfType sets the value type, e.g. the element type of a to-many relation
func OfType(t Type) Option {
	return func(f *Field) { f.Type = t }
}

// Description sets a description of the field
func Description(description string) Option {
	return func(f *Field) { f.Description = description }
}

func newField(name string, kind Kind, typ Type, expr Expr, options []Option) *Field {
	f := &Field{Name: name, Kind: kind, Type: typ, Expr: expr}
	for _, option := range options {
		option(f)
	}
	return f
}

// Scalar returns a plain value field
func Scalar(name string, typ Type, expr Expr, options ...Option) *Field {
	return newField(name, KindScalar, typ, expr, options)
}

// ToOne returns a field holding the id of one related resource
func ToOne(name, resource string, expr Expr, options ...Option) *Field {
	f := newField(name, KindToOne, Int, expr, options)
	f.Resource = resource
	f.Nullable = true
	return f
}

// ToMany returns a field holding the ids of many related resources. Its
// storage expression is either a column of the related table or a column
// of an association table.
func ToMany(name, resource string, expr Expr, options ...Option) *Field {
	f := newField(name, KindToMany, Int, expr, options)
	f.Resource = resource
	return f
}

// Choice returns a field which only accepts the allowed values
func Choice(name string, typ Type, expr Expr, allowed []interface{}, options ...Option) *Field {
	f := newField(name, KindChoice, typ, expr, options)
	f.AllowedValues = allowed
	return f
}

// IsRelation returns true for to-one and to-many fields
func (f *Field) IsRelation() bool {
	return f.Kind == KindToOne || f.Kind == KindToMany
}

// Readable returns true if the field is part of responses
func (f *Field) Readable() bool {
	return f.Visibility != VisibilityLoadOnly
}

// Writable returns true if the field is accepted in payloads
func (f *Field) Writable() bool {
	return f.Visibility != VisibilityDumpOnly
}

// Link returns the storage strategy of a to-many field
func (f *Field) Link() Link {
	return f.link
}

// Backref returns the foreign key of the related table for LinkDirect
func (f *Field) Backref() *ForeignKey {
	return f.backref
}

// Association returns the association table for LinkAssociation
func (f *Field) Association() *Association {
	return f.association
}

// Column returns the column name if the storage expression is a plain column
func (f *Field) Column() (string, bool) {
	c, ok := f.Expr.(Column)
	if !ok {
		return "", false
	}
	return c.Name(), true
}

// Resolve determines the storage strategy of a to-many field, where base is the
// table of the resource declaring the field and related the table of the
// related resource. If the field's storage table is the related table, the
// relation is direct; otherwise the storage table must be an association table
// with exactly one foreign key to base and exactly one foreign key to related.
// Other field kinds are not affected.
func (f *Field) Resolve(base, related *Table) error {
	if f.Kind != KindToMany {
		return nil
	}
	if f.Expr == nil {
		return fmt.Errorf("field %s: to-many relation needs a storage expression", f.Name)
	}
	storage := f.Expr.Table()
	if storage == nil {
		return fmt.Errorf("field %s: storage expression has no table", f.Name)
	}

	if storage.Name == related.Name {
		f.link = LinkDirect
		f.backref = nil
		if fks := storage.ForeignKeysTo(base.Name); len(fks) == 1 {
			f.backref = &fks[0]
		}
		return nil
	}

	owner := storage.ForeignKeysTo(base.Name)
	target := storage.ForeignKeysTo(related.Name)
	if len(owner) != 1 || len(target) != 1 {
		return fmt.Errorf("field %s: association table %s must have exactly one foreign key to %s and one to %s, found %d and %d",
			f.Name, storage.Name, base.Name, related.Name, len(owner), len(target))
	}
	f.link = LinkAssociation
	f.association = &Association{Table: storage, Owner: owner[0], Target: target[0]}
	return nil
}
