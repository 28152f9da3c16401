package resource

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/awokado/core/field"
)

// Registry maps resource names to their definitions. Resources are registered
// at startup, then the registry is sealed. Register is not safe for concurrent
// use; after Seal all methods are.
type Registry struct {
	definitions map[string]*Definition
	order       []string
	sealed      bool
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// ErrSealed is returned when registering into a sealed registry
var ErrSealed = errors.New("registry is sealed")

// Register adds resource definitions. It checks each definition on its own,
// relations between resources are checked by Seal.
func (r *Registry) Register(definitions ...*Definition) error {
	if r.sealed {
		return ErrSealed
	}
	for _, d := range definitions {
		if err := validate(d); err != nil {
			return err
		}
		if _, ok := r.definitions[d.Name]; ok {
			return fmt.Errorf("resource %s: already registered", d.Name)
		}
		r.definitions[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(definitions ...*Definition) {
	if err := r.Register(definitions...); err != nil {
		panic(err)
	}
}

func validate(d *Definition) error {
	if d.Name == "" {
		return errors.New("resource without name")
	}
	if d.Table == nil {
		return fmt.Errorf("resource %s: no table", d.Name)
	}
	if len(d.Operations) == 0 {
		return fmt.Errorf("resource %s: no operations", d.Name)
	}
	for _, o := range d.Operations {
		if !o.Valid() {
			return fmt.Errorf("resource %s: invalid operation %s", d.Name, o)
		}
	}

	d.fieldsByName = make(map[string]*field.Field, len(d.Fields))
	for _, f := range d.Fields {
		if _, ok := d.fieldsByName[f.Name]; ok {
			return fmt.Errorf("resource %s: duplicate field %s", d.Name, f.Name)
		}
		d.fieldsByName[f.Name] = f
		if f.Readable() && f.Expr == nil {
			return fmt.Errorf("resource %s: field %s must have a storage expression", d.Name, f.Name)
		}
		if f.IsRelation() && f.Resource == "" {
			return fmt.Errorf("resource %s: relation %s names no resource", d.Name, f.Name)
		}
		if f.Kind == field.KindChoice && len(f.AllowedValues) == 0 {
			return fmt.Errorf("resource %s: choice %s has no allowed values", d.Name, f.Name)
		}
		if d.Writes() && f.Writable() && f.Kind != field.KindToMany && f.Expr != nil {
			c, ok := f.Expr.(field.Column)
			if !ok || c.Table().Name != d.Writer().Name {
				return fmt.Errorf("resource %s: writable field %s must be a column of %s", d.Name, f.Name, d.Writer().Name)
			}
		}
	}

	id := d.ID()
	if id == nil || id.Expr == nil {
		return fmt.Errorf("resource %s: id field %s must be a field with a storage expression", d.Name, d.idFieldName())
	}
	return nil
}

// Seal resolves the relations between the registered resources and makes the
// registry immutable. It fails if a relation names an unknown resource, if a
// to-many relation cannot be resolved, or if a related resource provides no
// relation source for the resource including it.
func (r *Registry) Seal() error {
	if r.sealed {
		return ErrSealed
	}
	var problems []string
	for _, name := range r.order {
		d := r.definitions[name]
		for _, f := range d.Fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := r.definitions[f.Resource]
			if !ok {
				problems = append(problems, fmt.Sprintf("resource %s: relation %s names unknown resource %s", d.Name, f.Name, f.Resource))
				continue
			}
			if err := f.Resolve(d.Table, target.Table); err != nil {
				problems = append(problems, fmt.Sprintf("resource %s: %s", d.Name, err.Error()))
				continue
			}
			if f.Kind == field.KindToMany && f.Link() == field.LinkDirect && f.Writable() && d.Writes() && f.Backref() == nil {
				problems = append(problems, fmt.Sprintf("resource %s: relation %s: table %s needs one foreign key to %s",
					d.Name, f.Name, target.Table.Name, d.Table.Name))
			}
			if _, ok := target.Relations[d.Name]; !ok {
				problems = append(problems, MissingRelationSource(target.Name, d.Name))
			}
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	r.sealed = true
	return nil
}

// MustSeal is like Seal but panics on error
func (r *Registry) MustSeal() {
	if err := r.Seal(); err != nil {
		panic(err)
	}
}

// MissingRelationSource returns the message for a resource which cannot be included
// by another resource
func MissingRelationSource(target, requesting string) string {
	return fmt.Sprintf("Relation %s doesn't ready yet. Ask developers to add Relations[%q] to %s resource",
		target, requesting, target)
}

// Sealed returns true once the registry has been sealed
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the definition of a resource
func (r *Registry) Lookup(name string) (*Definition, bool) {
	d, ok := r.definitions[name]
	return d, ok
}

// All returns all definitions in registration order
func (r *Registry) All() []*Definition {
	all := make([]*Definition, len(r.order))
	for i, name := range r.order {
		all[i] = r.definitions[name]
	}
	return all
}
