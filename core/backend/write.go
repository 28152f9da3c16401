package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/field"
	"github.com/relabs-tech/awokado/core/logger"
	"github.com/relabs-tech/awokado/core/query"
	"github.com/relabs-tech/awokado/core/resource"
	"github.com/relabs-tech/awokado/core/schema"
)

// WriteContext carries one modifying request
type WriteContext struct {
	Resource *resource.Definition
	Identity *core.Identity
	Tx       csql.Queryer
	// ResourceID is the id of the request path, if any
	ResourceID interface{}
}

// writeRow is a coerced payload object, split into the columns of the write
// table and the to-many relations
type writeRow struct {
	columns   map[string]interface{}
	relations map[*field.Field][]interface{}
}

func (r writeRow) columnNames() []string {
	names := make([]string, 0, len(r.columns))
	for name := range r.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// load coerces a validated payload object into a write row
func load(d *resource.Definition, item map[string]interface{}) (writeRow, error) {
	row := writeRow{columns: map[string]interface{}{}, relations: map[*field.Field][]interface{}{}}
	id := d.ID()
	for name, raw := range item {
		f := d.Field(name)
		if f == id && !f.Writable() {
			continue
		}
		if f == nil || !f.Writable() {
			return row, apierror.BadRequest(map[string][]string{name: {"Unknown field."}})
		}
		value, err := f.Deserialize(raw)
		if err != nil {
			return row, err
		}
		if f.Kind == field.KindToMany {
			ids, _ := value.([]interface{})
			if ids == nil {
				ids = []interface{}{}
			}
			row.relations[f] = ids
			continue
		}
		column, ok := f.Column()
		if !ok {
			continue
		}
		if f.Type.IsArray() && value != nil {
			value = pq.Array(nativeSlice(f.Type.Element(), value.([]interface{})))
		}
		row.columns[column] = value
	}
	return row, nil
}

// nativeSlice converts coerced values into a typed slice for postgres arrays
func nativeSlice(t field.Type, values []interface{}) interface{} {
	if t == field.String {
		result := make([]string, len(values))
		for i, v := range values {
			result[i] = fmt.Sprint(v)
		}
		return result
	}
	result := make([]int64, len(values))
	for i, v := range values {
		switch n := v.(type) {
		case int64:
			result[i] = n
		case int:
			result[i] = int64(n)
		case float64:
			result[i] = int64(n)
		}
	}
	return result
}

// validate checks payload objects against the schema of the resource and returns
// a bad request with the messages per field. For lists the messages are keyed by
// the index of the object.
func (b *Backend) validate(d *resource.Definition, mode schema.Mode, items []interface{}, list bool) error {
	schemaID := schema.ID(d.Name, mode)
	errs := map[int]schema.FieldErrors{}
	for i, item := range items {
		fe, err := b.validator.Validate(item, schemaID)
		if err != nil {
			return err
		}
		if len(fe) > 0 {
			errs[i] = fe
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if !list {
		return apierror.BadRequest(errs[0])
	}
	return apierror.BadRequest(schema.ItemErrors(errs))
}

func asObjects(items []interface{}) ([]map[string]interface{}, error) {
	objects := make([]map[string]interface{}, len(items))
	for i, item := range items {
		object, ok := item.(map[string]interface{})
		if !ok {
			return nil, apierror.BadRequest("Invalid input type.")
		}
		objects[i] = object
	}
	return objects, nil
}

// returning is the column which identifies inserted rows
func returning(d *resource.Definition) string {
	if column, ok := d.ID().Column(); ok {
		return column
	}
	return d.Writer().PrimaryKey
}

// Create inserts one object, or all objects if payload is a list, and returns the
// read back objects
func (b *Backend) Create(ctx context.Context, wc WriteContext, payload interface{}) (map[string]interface{}, error) {
	d := wc.Resource
	items, list := payload.([]interface{})
	operation := core.OperationCreate
	if list {
		operation = core.OperationBulkCreate
	} else {
		items = []interface{}{payload}
	}
	if !d.Allows(operation) {
		return nil, apierror.MethodNotAllowed("")
	}
	if d.Policy != nil {
		if err := d.Policy.CanCreate(ctx, wc.Identity, payload); err != nil {
			return nil, err
		}
	}
	if err := b.validate(d, schema.Create, items, list); err != nil {
		return nil, err
	}
	objects, err := asObjects(items)
	if err != nil {
		return nil, err
	}
	rows := make([]writeRow, len(objects))
	for i, object := range objects {
		if rows[i], err = load(d, object); err != nil {
			return nil, err
		}
	}
	ids, err := insert(ctx, wc.Tx, d, rows)
	if err != nil {
		return nil, err
	}
	if err := syncRelations(ctx, wc.Tx, rows, ids, false); err != nil {
		return nil, err
	}
	b.record(ctx, d.Name, operation, wc.Identity, payload)
	logger.FromContext(ctx).Debugf("created %d %s", len(ids), d.Name)

	rc := ReadContext{Resource: d, Identity: wc.Identity, Tx: wc.Tx}
	if list {
		rc.IDs = ids
	} else {
		rc.ResourceID = ids[0]
	}
	return Read(ctx, b.registry, rc)
}

// insert inserts all rows with one statement and returns the generated ids in order
func insert(ctx context.Context, tx csql.Queryer, d *resource.Definition, rows []writeRow) ([]interface{}, error) {
	set := map[string]bool{}
	for _, row := range rows {
		for name := range row.columns {
			set[name] = true
		}
	}
	columns := make([]string, 0, len(set))
	for name := range set {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	if len(columns) == 0 && len(rows) > 1 {
		// DEFAULT VALUES inserts a single row
		columns = []string{returning(d)}
	}

	statement := query.NewInsert(d.Writer().Name, columns...).Returning(returning(d))
	for _, row := range rows {
		values := make([]interface{}, len(columns))
		for i, column := range columns {
			value, ok := row.columns[column]
			if !ok {
				value = query.Default
			}
			values[i] = value
		}
		statement.Row(values...)
	}
	sqlQuery, args := statement.Build()
	result, err := tx.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot insert %s: %w", d.Name, err)
	}
	defer result.Close()
	ids := make([]interface{}, 0, len(rows))
	for result.Next() {
		var id interface{}
		if err := result.Scan(&id); err != nil {
			return nil, fmt.Errorf("cannot insert %s: %w", d.Name, err)
		}
		ids = append(ids, d.ID().Dump(&id))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("cannot insert %s: %w", d.Name, err)
	}
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("cannot insert %s: expected %d ids, got %d", d.Name, len(rows), len(ids))
	}
	return ids, nil
}

// Update updates the objects of a list payload and returns the read back objects.
// Objects are identified by their id field, fields which are not provided keep
// their values. To-many relations which are provided are replaced.
func (b *Backend) Update(ctx context.Context, wc WriteContext, payload interface{}) (map[string]interface{}, error) {
	d := wc.Resource
	items, list := payload.([]interface{})
	if !list {
		return nil, apierror.BadRequest(map[string][]string{d.Name: {"Not a valid list."}})
	}
	operation := core.OperationUpdate
	if len(items) > 1 {
		operation = core.OperationBulkUpdate
	}
	if !d.Allows(operation) {
		return nil, apierror.MethodNotAllowed("")
	}
	if err := b.validate(d, schema.Update, items, true); err != nil {
		return nil, err
	}
	objects, err := asObjects(items)
	if err != nil {
		return nil, err
	}

	idField := d.ID()
	ids := make([]interface{}, len(objects))
	rows := make([]writeRow, len(objects))
	for i, object := range objects {
		raw, ok := object[idField.Name]
		if !ok || raw == nil {
			return nil, apierror.BadRequest(map[string][]string{idField.Name: {"Missing data for required field."}})
		}
		if ids[i], err = idField.Deserialize(raw); err != nil {
			return nil, err
		}
		if wc.ResourceID != nil && fmt.Sprint(ids[i]) != fmt.Sprint(wc.ResourceID) {
			return nil, apierror.BadRequest(fmt.Sprintf("identifier mismatch for %s", d.Name))
		}
		if rows[i], err = load(d, object); err != nil {
			return nil, err
		}
	}
	if d.Policy != nil {
		if err := d.Policy.CanUpdate(ctx, wc.Identity, ids); err != nil {
			return nil, err
		}
	}
	if err := update(ctx, wc.Tx, d, ids, rows); err != nil {
		return nil, err
	}
	if err := syncRelations(ctx, wc.Tx, rows, ids, true); err != nil {
		return nil, err
	}
	b.record(ctx, d.Name, operation, wc.Identity, payload)
	logger.FromContext(ctx).Debugf("updated %d %s", len(ids), d.Name)

	return Read(ctx, b.registry, ReadContext{Resource: d, Identity: wc.Identity, Tx: wc.Tx, IDs: ids})
}

// update runs one batched update per distinct set of provided columns
func update(ctx context.Context, tx csql.Queryer, d *resource.Definition, ids []interface{}, rows []writeRow) error {
	key := returning(d)
	keyType := d.ID().Type.SQLType()
	columnTypes := map[string]string{}
	for _, f := range d.Fields {
		if column, ok := f.Column(); ok && f.Kind != field.KindToMany {
			columnTypes[column] = f.Type.SQLType()
		}
	}

	var order []string
	groups := map[string]*query.UpdateFromValues{}
	for i, row := range rows {
		delete(row.columns, key)
		columns := row.columnNames()
		if len(columns) == 0 {
			continue
		}
		group := strings.Join(columns, ",")
		statement, ok := groups[group]
		if !ok {
			statement = query.NewUpdateFromValues(d.Writer().Name, key, keyType)
			for _, column := range columns {
				statement.Set(column, columnTypes[column])
			}
			groups[group] = statement
			order = append(order, group)
		}
		values := make([]interface{}, len(columns))
		for j, column := range columns {
			values[j] = row.columns[column]
		}
		statement.Row(ids[i], values...)
	}
	for _, group := range order {
		sqlQuery, args := groups[group].Build()
		if _, err := tx.ExecContext(ctx, sqlQuery, args...); err != nil {
			return fmt.Errorf("cannot update %s: %w", d.Name, err)
		}
	}
	return nil
}

// Delete deletes the object of the request path or the objects of the ids parameter.
// Exactly one of them must be given.
func (b *Backend) Delete(ctx context.Context, wc WriteContext, ids []string) (map[string]interface{}, error) {
	d := wc.Resource
	if !d.Allows(core.OperationDelete) {
		return nil, apierror.MethodNotAllowed("")
	}
	if (wc.ResourceID == nil) == (len(ids) == 0) {
		return nil, apierror.BadRequest("Delete requires either a resource id in the path or an ids parameter, not both")
	}
	raw := []interface{}{wc.ResourceID}
	if wc.ResourceID == nil {
		raw = make([]interface{}, len(ids))
		for i, id := range ids {
			raw[i] = id
		}
	}
	values, err := d.ID().DeserializeList(raw)
	if err != nil {
		return nil, err
	}
	if d.Policy != nil {
		if err := d.Policy.CanDelete(ctx, wc.Identity, values); err != nil {
			return nil, err
		}
	}

	for _, f := range d.Fields {
		if f.Kind != field.KindToMany || f.Link() != field.LinkAssociation {
			continue
		}
		a := f.Association()
		sqlQuery, args := query.NewDelete(a.Table.Name).Where(query.In(a.Table.Column(a.Owner.Column).SQL(), values)).Build()
		if _, err := wc.Tx.ExecContext(ctx, sqlQuery, args...); err != nil {
			return nil, fmt.Errorf("cannot delete %s of %s: %w", f.Name, d.Name, err)
		}
	}
	sqlQuery, args := query.NewDelete(d.Writer().Name).Where(query.In(d.Writer().Column(returning(d)).SQL(), values)).Build()
	res, err := wc.Tx.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot delete %s: %w", d.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		logger.FromContext(ctx).Debugf("deleted %d %s", n, d.Name)
	}
	b.record(ctx, d.Name, core.OperationDelete, wc.Identity, values)
	return map[string]interface{}{}, nil
}

type contextKeyPendingType struct{}

var contextKeyPending = &contextKeyPendingType{}

// pendingRecord is an audit record held back until the request transaction commits
type pendingRecord struct {
	resource  string
	operation core.Operation
	identity  *core.Identity
	payload   interface{}
}

type pendingRecords struct {
	records []pendingRecord
}

// contextWithPendingRecords returns a context which collects audit records
// instead of emitting them
func contextWithPendingRecords(ctx context.Context) (context.Context, *pendingRecords) {
	pending := &pendingRecords{}
	return context.WithValue(ctx, contextKeyPending, pending), pending
}

// record emits an audit record of a completed write. Within a request
// transaction the record is held back until flush.
func (b *Backend) record(ctx context.Context, name string, operation core.Operation, identity *core.Identity, payload interface{}) {
	if pending, ok := ctx.Value(contextKeyPending).(*pendingRecords); ok {
		pending.records = append(pending.records, pendingRecord{name, operation, identity, payload})
		return
	}
	b.audit.Audit(ctx, name, operation, identity, payload)
}

// flush emits the held back records after a successful commit
func (b *Backend) flush(ctx context.Context, pending *pendingRecords) {
	for _, r := range pending.records {
		b.audit.Audit(ctx, r.resource, r.operation, r.identity, r.payload)
	}
	pending.records = nil
}
