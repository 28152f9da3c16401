package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/field"
	"github.com/relabs-tech/awokado/core/query"
	"github.com/relabs-tech/awokado/core/resource"
)

// Related returns a relation source which reads the related objects with the
// projection of the target resource. It supports every relation kind:
//
//   - to-one: the targets referenced by the relation column of the requesting objects
//   - direct to-many: the targets whose foreign key references a requesting object
//   - association to-many: the targets bridged by the association table
//
// The read policy of the target applies.
func Related() resource.RelationSource {
	return resource.RelationFunc(readRelated)
}

func readRelated(ctx context.Context, tx csql.Queryer, target *resource.Definition, scope core.Scope, via *field.Field) ([]resource.Row, error) {
	predicate, err := relatedPredicate(target, scope, via)
	if err != nil {
		return nil, err
	}
	rc := ReadContext{Resource: target, Identity: scope.Identity, Tx: tx}
	rc, err = buildBaseQuery(ctx, rc)
	if err != nil {
		return nil, err
	}
	rc.Query.WhereFragment(predicate)
	rc, err = authorizeRead(ctx, rc)
	if err != nil {
		return nil, err
	}
	rows, _, err := fetch(ctx, tx, target, rc.Query, false)
	return rows, err
}

// relatedPredicate selects the targets related to the objects of scope through via
func relatedPredicate(target *resource.Definition, scope core.Scope, via *field.Field) (query.Fragment, error) {
	storage := via.Expr.Table()
	if storage == nil {
		return query.Fragment{}, fmt.Errorf("relation %s: storage expression has no table", via.Name)
	}
	idExpr := scope.IDExpr
	if idExpr == "" {
		idExpr = storage.ID().SQL()
	}
	targetID := target.ID().Expr.SQL()

	switch {
	case via.Kind == field.KindToOne:
		sub := query.In(idExpr, scope.IDs)
		return query.Frag(targetID+" IN (SELECT "+via.Expr.SQL()+" FROM "+storage.SQL()+" WHERE "+sub.SQL+")", sub.Args...), nil

	case via.Link() == field.LinkDirect:
		backref := via.Backref()
		if backref == nil {
			return query.Fragment{}, fmt.Errorf("relation %s: table %s has no unique foreign key to the requesting resource", via.Name, storage.Name)
		}
		return referencing(storage.Column(backref.Column).SQL(), *backref, idExpr, scope.IDs), nil

	case via.Link() == field.LinkAssociation:
		a := via.Association()
		sub := referencing(a.Table.Column(a.Owner.Column).SQL(), a.Owner, idExpr, scope.IDs)
		column := target.Table.Column(a.Target.RefColumn).SQL()
		return query.Frag(column+" IN (SELECT "+a.Table.Column(a.Target.Column).SQL()+" FROM "+a.Table.SQL()+" WHERE "+sub.SQL+")", sub.Args...), nil
	}
	return query.Fragment{}, fmt.Errorf("relation %s is not resolved", via.Name)
}

// referencing returns the predicate "column references one of the requesting
// objects ids" for the foreign key fk. When the id field is not the referenced
// column, the ids are mapped to referenced keys with a subquery.
func referencing(column string, fk field.ForeignKey, idExpr string, ids []interface{}) query.Fragment {
	ref := field.NewTable(fk.RefTable)
	refColumn := ref.Column(fk.RefColumn).SQL()
	if refColumn == idExpr {
		return query.In(column, ids)
	}
	in := query.In(idExpr, ids)
	return query.Frag(column+" IN (SELECT "+refColumn+" FROM "+ref.SQL()+" WHERE "+in.SQL+")", in.Args...)
}
