package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/field"
	"github.com/relabs-tech/awokado/core/query"
)

// syncRelations writes the to-many relations of the rows, where ownerIDs are the ids
// of the rows. With replace the existing relations of the owners are removed first;
// relations which are not provided are not touched.
func syncRelations(ctx context.Context, tx csql.Queryer, rows []writeRow, ownerIDs []interface{}, replace bool) error {
	var fields []*field.Field
	seen := map[*field.Field]bool{}
	for _, row := range rows {
		for f := range row.relations {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	for _, f := range fields {
		var owners []interface{}
		var targets [][]interface{}
		var all []interface{}
		for i, row := range rows {
			ids, ok := row.relations[f]
			if !ok {
				continue
			}
			owners = append(owners, ownerIDs[i])
			targets = append(targets, ids)
			all = append(all, ids...)
		}
		if err := checkRelatedIDs(ctx, tx, f, all); err != nil {
			return err
		}
		var err error
		switch f.Link() {
		case field.LinkAssociation:
			err = syncAssociation(ctx, tx, f, owners, targets, replace)
		case field.LinkDirect:
			err = syncDirect(ctx, tx, f, owners, targets, replace)
		default:
			err = fmt.Errorf("relation %s is not resolved", f.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// relatedColumn returns the table and the column referenced by the ids of a to-many field
func relatedColumn(f *field.Field) (string, string) {
	if f.Link() == field.LinkAssociation {
		fk := f.Association().Target
		return fk.RefTable, fk.RefColumn
	}
	table := f.Expr.Table()
	return table.Name, table.PrimaryKey
}

// checkRelatedIDs returns a bad request naming the field if any of ids does not
// exist in the related table
func checkRelatedIDs(ctx context.Context, tx csql.Queryer, f *field.Field, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	tableName, columnName := relatedColumn(f)
	table := field.NewTable(tableName)
	column := table.Column(columnName).SQL()
	statement := query.NewSelect(table.SQL()).Column(column, "").WhereFragment(query.Any(column, nativeSlice(f.Type.Element(), ids)))
	sqlQuery, args := statement.Build()
	rows, err := tx.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return fmt.Errorf("cannot check %s: %w", f.Name, err)
	}
	defer rows.Close()
	existing := map[string]bool{}
	for rows.Next() {
		var id interface{}
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("cannot check %s: %w", f.Name, err)
		}
		existing[fmt.Sprint(f.Dump(&id))] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cannot check %s: %w", f.Name, err)
	}

	var missing []string
	reported := map[string]bool{}
	for _, id := range ids {
		key := fmt.Sprint(id)
		if !existing[key] && !reported[key] {
			reported[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return apierror.BadRequest(map[string]string{
			f.Name: fmt.Sprintf("Related ids [%s] not found", strings.Join(missing, ", ")),
		})
	}
	return nil
}

func syncAssociation(ctx context.Context, tx csql.Queryer, f *field.Field, owners []interface{}, targets [][]interface{}, replace bool) error {
	a := f.Association()
	if replace {
		sqlQuery, args := query.NewDelete(a.Table.Name).Where(query.In(a.Table.Column(a.Owner.Column).SQL(), owners)).Build()
		if _, err := tx.ExecContext(ctx, sqlQuery, args...); err != nil {
			return fmt.Errorf("cannot clear %s: %w", f.Name, err)
		}
	}
	statement := query.NewInsert(a.Table.Name, a.Owner.Column, a.Target.Column)
	n := 0
	for i, owner := range owners {
		seen := map[string]bool{}
		for _, target := range targets[i] {
			key := fmt.Sprint(target)
			if seen[key] {
				continue
			}
			seen[key] = true
			statement.Row(owner, target)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	sqlQuery, args := statement.Build()
	if _, err := tx.ExecContext(ctx, sqlQuery, args...); err != nil {
		return fmt.Errorf("cannot write %s: %w", f.Name, err)
	}
	return nil
}

// syncDirect points the foreign key of the related rows to their owner
func syncDirect(ctx context.Context, tx csql.Queryer, f *field.Field, owners []interface{}, targets [][]interface{}, replace bool) error {
	backref := f.Backref()
	if backref == nil {
		return fmt.Errorf("relation %s has no foreign key to its owner", f.Name)
	}
	table := f.Expr.Table()
	if replace {
		sqlQuery, args := query.NewUpdate(table.Name).Set(backref.Column, nil).
			Where(query.In(table.Column(backref.Column).SQL(), owners)).Build()
		if _, err := tx.ExecContext(ctx, sqlQuery, args...); err != nil {
			return fmt.Errorf("cannot clear %s: %w", f.Name, err)
		}
	}
	for i, owner := range owners {
		if len(targets[i]) == 0 {
			continue
		}
		sqlQuery, args := query.NewUpdate(table.Name).Set(backref.Column, owner).
			Where(query.In(table.ID().SQL(), targets[i])).Build()
		if _, err := tx.ExecContext(ctx, sqlQuery, args...); err != nil {
			return fmt.Errorf("cannot write %s: %w", f.Name, err)
		}
	}
	return nil
}
