package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/field"
	"github.com/relabs-tech/awokado/core/filter"
	"github.com/relabs-tech/awokado/core/logger"
	"github.com/relabs-tech/awokado/core/query"
	"github.com/relabs-tech/awokado/core/resource"
)

// ReadContext carries one read request through the stages of the read pipeline.
// The first group of fields are the inputs, the second group is filled by the
// stages. Every stage receives the context by value and returns the updated value.
type ReadContext struct {
	Resource   *resource.Definition
	Identity   *core.Identity
	Tx         csql.Queryer
	Include    []string
	Filters    []filter.Item
	Sort       []string
	ResourceID interface{}
	// IDs restricts a list read to these ids, e.g. when reading back a bulk write
	IDs    []interface{}
	Limit  *int
	Offset *int

	Query     *query.Select
	ObjectIDs []interface{}
	Payload   []resource.Row
	Related   map[string][]resource.Row
	Total     int
}

// IsList returns true if the request reads a list rather than one object
func (rc ReadContext) IsList() bool {
	return rc.ResourceID == nil
}

// Scope returns the scope of the request for policies and relation sources
func (rc ReadContext) Scope() core.Scope {
	scope := core.Scope{
		Resource:   rc.Resource.Name,
		Identity:   rc.Identity,
		ResourceID: rc.ResourceID,
		IDs:        rc.ObjectIDs,
	}
	if id := rc.Resource.ID(); id != nil && id.Expr != nil {
		scope.IDExpr = id.Expr.SQL()
	}
	return scope
}

// stage is one step of the read pipeline
type stage func(ctx context.Context, rc ReadContext) (ReadContext, error)

// Read runs the read pipeline and returns the response envelope. The registry is
// used to resolve included relations.
func Read(ctx context.Context, registry *resource.Registry, rc ReadContext) (map[string]interface{}, error) {
	stages := []stage{
		buildBaseQuery,
		authorizeRead,
		applyFilters,
		applySort,
		applyPagination,
		execute,
		resolveIncludes(registry),
	}
	var err error
	for _, s := range stages {
		rc, err = s(ctx, rc)
		if err != nil {
			return nil, err
		}
	}
	return serialize(rc)
}

// selectExpr returns the projection of a field. To-many relations are aggregated into
// a deduplicated array without nulls.
func selectExpr(f *field.Field) string {
	if f.Kind == field.KindToMany {
		return "array_remove(array_agg(DISTINCT " + f.Expr.SQL() + "), NULL)"
	}
	return f.Expr.SQL()
}

func buildBaseQuery(_ context.Context, rc ReadContext) (ReadContext, error) {
	d := rc.Resource
	id := d.ID()
	if id == nil || id.Expr == nil {
		return rc, apierror.IDFieldMissing()
	}

	q := query.NewSelect(d.From())
	aggregates := len(d.SelectFrom) > 0
	var foreign []string
	for _, f := range d.Fields {
		if !f.Readable() {
			continue
		}
		q.Column(selectExpr(f), f.Name)
		switch {
		case f.Kind == field.KindToMany || f.Expr.Aggregate():
			aggregates = true
		case f.Expr.Table() != nil && f.Expr.Table().Name != d.Table.Name:
			foreign = append(foreign, f.Expr.SQL())
		}
	}
	if aggregates {
		q.GroupBy(id.Expr.SQL())
		q.GroupBy(foreign...)
	}

	if !rc.IsList() {
		value, err := id.Deserialize(rc.ResourceID)
		if err != nil {
			return rc, err
		}
		q.Where(id.Expr.SQL()+" = ?", value)
	}
	if rc.IDs != nil {
		q.WhereFragment(query.In(id.Expr.SQL(), rc.IDs))
	}
	rc.Query = q
	return rc, nil
}

func authorizeRead(ctx context.Context, rc ReadContext) (ReadContext, error) {
	if rc.Resource.Policy == nil {
		return rc, nil
	}
	q, err := rc.Resource.Policy.CanRead(ctx, rc.Scope(), rc.Query)
	if err != nil {
		return rc, err
	}
	rc.Query = q
	return rc, nil
}

var comparisons = map[filter.Operator]string{
	filter.LTE:   "<=",
	filter.EQ:    "=",
	filter.GTE:   ">=",
	filter.LT:    "<",
	filter.GT:    ">",
	filter.ILike: "ILIKE",
}

func applyFilters(_ context.Context, rc ReadContext) (ReadContext, error) {
	if len(rc.Filters) == 0 {
		return rc, nil
	}
	q := rc.Query.Clone()
	for _, item := range rc.Filters {
		f := rc.Resource.Field(item.Field)
		if f == nil || f.Expr == nil {
			return rc, apierror.BadFilter(item.Field)
		}
		if err := applyFilter(q, f, item); err != nil {
			return rc, err
		}
	}
	rc.Query = q
	return rc, nil
}

func applyFilter(q *query.Select, f *field.Field, item filter.Item) error {
	expr := f.Expr.SQL()
	value := filter.ValueToNative(item.Wrap(item.Value))
	where := q.WhereFragment
	if f.Expr.Aggregate() {
		where = q.HavingFragment
	}

	switch item.Operator {
	case filter.Empty:
		where(query.Frag(expr + " IS NULL"))
		return nil
	case filter.NotEmpty:
		where(query.Frag(expr + " IS NOT NULL"))
		return nil
	case filter.ILike:
		if f.Type != field.String {
			expr += "::text"
		}
		where(query.Frag(expr+" ILIKE ?", fmt.Sprint(value)))
		return nil
	}

	list, isList := value.([]interface{})
	switch item.Operator {
	case filter.In:
		if !isList {
			list = []interface{}{value}
		}
		values, err := f.DeserializeList(list)
		if err != nil {
			return err
		}
		where(query.In(expr, values))
		return nil
	case filter.Contains:
		if !isList {
			list = []interface{}{value}
		}
		values, err := f.DeserializeList(list)
		if err != nil {
			return err
		}
		arrayType := f.Type.Element().SQLType() + "[]"
		switch {
		case f.Kind == field.KindToMany:
			q.Having("array_agg("+expr+")::"+arrayType+" @> ?::"+arrayType, pq.Array(nativeSlice(f.Type.Element(), values)))
		case f.Type.IsArray():
			where(query.Frag(expr+"::"+arrayType+" @> ?::"+arrayType, pq.Array(nativeSlice(f.Type.Element(), values))))
		default:
			for _, v := range values {
				where(query.Frag("strpos("+expr+"::text, ?) > 0", fmt.Sprint(v)))
			}
		}
		return nil
	}

	op, ok := comparisons[item.Operator]
	if !ok {
		return apierror.BadFilterf("Operator %s doesn't exist", item.Operator)
	}
	if isList {
		return apierror.BadFilterf("Operator %s of %s needs a single value", item.Operator, f.Name)
	}
	if value == nil {
		if item.Operator != filter.EQ {
			return apierror.BadFilterf("Operator %s of %s needs a value", item.Operator, f.Name)
		}
		where(query.Frag(expr + " IS NULL"))
		return nil
	}
	if f.Kind == field.KindToMany {
		return apierror.BadFilterf("Operator %s is not supported for relation %s", item.Operator, f.Name)
	}
	v, err := f.Deserialize(value)
	if err != nil {
		return err
	}
	where(query.Frag(expr+" "+op+" ?", v))
	return nil
}

func applySort(ctx context.Context, rc ReadContext) (ReadContext, error) {
	if len(rc.Sort) == 0 {
		return rc, nil
	}
	q := rc.Query.Clone()
	for _, term := range rc.Sort {
		name := strings.TrimPrefix(term, "-")
		f := rc.Resource.Field(name)
		if f == nil || f.Expr == nil || !f.Readable() {
			logger.FromContext(ctx).Debugf("ignore unknown sort field %s of %s", name, rc.Resource.Name)
			continue
		}
		q.OrderBy(selectExpr(f), strings.HasPrefix(term, "-"))
	}
	rc.Query = q
	return rc, nil
}

func applyPagination(_ context.Context, rc ReadContext) (ReadContext, error) {
	if rc.Limit == nil && rc.Offset == nil {
		return rc, nil
	}
	q := rc.Query.Clone()
	if rc.Limit != nil {
		if *rc.Limit < 0 {
			return rc, apierror.BadLimitOffset()
		}
		// zero means no limit
		if *rc.Limit > 0 {
			q.Limit(*rc.Limit)
		}
	}
	if rc.Offset != nil {
		if *rc.Offset < 0 {
			return rc, apierror.BadLimitOffset()
		}
		q.Offset(*rc.Offset)
	}
	rc.Query = q
	return rc, nil
}

func execute(ctx context.Context, rc ReadContext) (ReadContext, error) {
	rows, total, err := fetch(ctx, rc.Tx, rc.Resource, rc.Query, !rc.Resource.DisableTotal)
	if err != nil {
		return rc, err
	}
	idName := rc.Resource.ID().Name
	rc.ObjectIDs = make([]interface{}, 0, len(rows))
	for _, row := range rows {
		rc.ObjectIDs = append(rc.ObjectIDs, row[idName])
	}
	rc.Payload = rows
	rc.Total = total
	return rc, nil
}

// fetch executes a select statement of a resource and dumps the rows. With total the
// statement is extended by the window count of all matching rows.
func fetch(ctx context.Context, tx csql.Queryer, d *resource.Definition, q *query.Select, total bool) ([]resource.Row, int, error) {
	if total {
		q = q.Clone().Column("count(*) OVER()", "total")
	}
	sqlQuery, args := q.Build()
	logger.FromContext(ctx).Debugln("query:", sqlQuery)
	rows, err := tx.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot read %s: %w", d.Name, err)
	}
	defer rows.Close()

	columns := q.Columns()
	fields := make([]*field.Field, len(columns))
	for i, c := range columns {
		fields[i] = d.Field(c.Label)
	}
	result := []resource.Row{}
	count := 0
	for rows.Next() {
		var n int64
		targets := make([]interface{}, len(columns))
		for i, f := range fields {
			switch {
			case total && i == len(columns)-1:
				targets[i] = &n
			case f != nil:
				targets[i] = f.ScanTarget()
			default:
				targets[i] = new(interface{})
			}
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, 0, fmt.Errorf("cannot scan %s: %w", d.Name, err)
		}
		row := resource.Row{}
		for i, f := range fields {
			if f == nil || (total && i == len(columns)-1) {
				continue
			}
			row[f.Name] = f.Dump(targets[i])
		}
		if len(result) == 0 {
			count = int(n)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("cannot read %s: %w", d.Name, err)
	}
	return result, count, nil
}

func resolveIncludes(registry *resource.Registry) stage {
	return func(ctx context.Context, rc ReadContext) (ReadContext, error) {
		if len(rc.Include) == 0 {
			return rc, nil
		}
		related := map[string][]resource.Row{}
		for name, rows := range rc.Related {
			related[name] = rows
		}
		for _, include := range rc.Include {
			if strings.Contains(include, ".") {
				return rc, apierror.BadRequest("")
			}
			via := rc.Resource.Field(include)
			if via == nil || !via.IsRelation() {
				return rc, apierror.RelationNotFound(include)
			}
			target, ok := registry.Lookup(via.Resource)
			if !ok {
				return rc, apierror.ResourceNotFound(via.Resource)
			}
			source, ok := target.Relations[rc.Resource.Name]
			if !ok {
				return rc, apierror.BadRequest(resource.MissingRelationSource(target.Name, rc.Resource.Name))
			}
			var rows []resource.Row
			if len(rc.ObjectIDs) > 0 {
				var err error
				rows, err = source.ByIDs(ctx, rc.Tx, target, rc.Scope(), via)
				if err != nil {
					return rc, err
				}
			}
			related[target.Name] = merge(related[target.Name], rows, target.ID().Name)
		}
		rc.Related = related
		return rc, nil
	}
}

// merge appends the rows which are not yet present by id
func merge(existing, rows []resource.Row, idName string) []resource.Row {
	if existing == nil {
		existing = []resource.Row{}
	}
	seen := make(map[string]bool, len(existing))
	for _, row := range existing {
		seen[fmt.Sprint(row[idName])] = true
	}
	for _, row := range rows {
		key := fmt.Sprint(row[idName])
		if seen[key] {
			continue
		}
		seen[key] = true
		existing = append(existing, row)
	}
	return existing
}

func serialize(rc ReadContext) (map[string]interface{}, error) {
	if len(rc.Payload) == 0 && !rc.IsList() {
		return nil, apierror.BadRequest("Object Not Found")
	}
	return Envelope(rc.Resource, rc.IsList(), rc.Payload, rc.Related, rc.Total), nil
}
