/*Package resource provides resource definitions and the resource registry.

A resource is declared once at startup:

	authors := field.NewTable("authors")
	author := &resource.Definition{
		Name:       "author",
		Table:      authors,
		Operations: core.AllOperations,
		Fields: []*field.Field{
			field.Scalar("id", field.Int, authors.ID(), field.DumpOnly()),
			field.Scalar("first_name", field.String, authors.Column("first_name"), field.Required()),
		},
	}
	registry.MustRegister(author)
	registry.MustSeal()

After Seal the registry is immutable and safe for concurrent reads.
*/
package resource

import (
	"context"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/access"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/field"
)

// Row is one serialized resource object
type Row = map[string]interface{}

// RelationSource looks up the objects of a resource which are related to the objects
// a read request of another resource matched. scope names the requesting resource and
// carries the matched ids, via is the relation field of the requesting resource.
// The returned rows must contain the id field of target.
type RelationSource interface {
	ByIDs(ctx context.Context, tx csql.Queryer, target *Definition, scope core.Scope, via *field.Field) ([]Row, error)
}

// RelationFunc is an adapter to use ordinary functions as RelationSource
type RelationFunc func(ctx context.Context, tx csql.Queryer, target *Definition, scope core.Scope, via *field.Field) ([]Row, error)

// ByIDs calls f
func (f RelationFunc) ByIDs(ctx context.Context, tx csql.Queryer, target *Definition, scope core.Scope, via *field.Field) ([]Row, error) {
	return f(ctx, tx, target, scope, via)
}

// Definition is the declaration of a resource
type Definition struct {
	// Name identifies the resource, it is the JSON payload key and the route
	Name string
	// Table is the base table
	Table *field.Table
	// SelectFrom are joins to the base table which form the read source
	SelectFrom []field.Join
	// WriteTable is the target of inserts, updates and deletes. Defaults to Table.
	WriteTable *field.Table
	// Operations are the allowed operations
	Operations []core.Operation
	// IDField is the field addressing single objects. Defaults to "id".
	IDField string
	// DisableTotal omits the total count of list responses
	DisableTotal bool
	// Policy is the authorization hook. Nil means public.
	Policy access.Policy
	// Fields are the fields in response order
	Fields []*field.Field
	// Relations maps the names of resources which include this resource to the
	// source of the related objects
	Relations map[string]RelationSource

	fieldsByName map[string]*field.Field
}

// Field returns the field with the given name, or nil
func (d *Definition) Field(name string) *field.Field {
	if d.fieldsByName != nil {
		return d.fieldsByName[name]
	}
	for _, f := range d.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldNames returns the names of all fields
func (d *Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// ID returns the id field
func (d *Definition) ID() *field.Field {
	return d.Field(d.idFieldName())
}

func (d *Definition) idFieldName() string {
	if d.IDField == "" {
		return "id"
	}
	return d.IDField
}

// Writer returns the write table
func (d *Definition) Writer() *field.Table {
	if d.WriteTable == nil {
		return d.Table
	}
	return d.WriteTable
}

// From returns the FROM source of read queries
func (d *Definition) From() string {
	return field.FromClause(d.Table, d.SelectFrom)
}

// Allows returns true if the operation is allowed
func (d *Definition) Allows(operation core.Operation) bool {
	for _, o := range d.Operations {
		if o == operation {
			return true
		}
	}
	return false
}

// Writes returns true if any modifying operation is allowed
func (d *Definition) Writes() bool {
	for _, o := range d.Operations {
		if o != core.OperationRead {
			return true
		}
	}
	return false
}
