package access

import (
	"context"
	"errors"
	"testing"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenyAll(t *testing.T) {
	var p Policy = DenyAll{}
	ctx := context.Background()

	assert.True(t, errors.Is(p.CanCreate(ctx, nil, nil), apierror.CreateForbidden()))
	_, err := p.CanRead(ctx, core.Scope{}, query.NewSelect("books"))
	assert.True(t, errors.Is(err, apierror.ReadForbidden()))
	assert.True(t, errors.Is(p.CanUpdate(ctx, nil, []interface{}{1}), apierror.UpdateForbidden()))
	assert.True(t, errors.Is(p.CanDelete(ctx, nil, []interface{}{1}), apierror.DeleteForbidden()))
}

func TestProbe(t *testing.T) {
	allowed, err := Probe(nil)
	assert.True(t, allowed)
	assert.NoError(t, err)

	allowed, err = Probe(DenyAll{}.CanDelete(context.Background(), nil, nil))
	assert.False(t, allowed)
	assert.NoError(t, err)

	failure := errors.New("connection lost")
	allowed, err = Probe(failure)
	assert.False(t, allowed)
	assert.Equal(t, failure, err)
}

func TestRoleTable_Admin(t *testing.T) {
	rt := RoleTable{core.OperationRead: {"reader"}}
	admin := &core.Identity{UserID: 1, Roles: []string{"admin"}}

	assert.True(t, rt.IsAuthorized(admin, core.OperationCreate))
	assert.True(t, rt.IsAuthorized(admin, core.OperationBulkUpdate))
	assert.False(t, rt.IsAuthorized(admin, core.OperationRead), "admin is not listed for read")
}

func TestRoleTable_Public(t *testing.T) {
	rt := RoleTable{core.OperationRead: {RolePublic}}
	someone := &core.Identity{UserID: 2, Roles: []string{"someone"}}

	assert.False(t, rt.IsAuthorized(someone, core.OperationCreate), "public should not create")
	assert.True(t, rt.IsAuthorized(someone, core.OperationRead))

	// now try without any identity, this should also work
	assert.False(t, rt.IsAuthorized(nil, core.OperationCreate))
	assert.True(t, rt.IsAuthorized(nil, core.OperationRead))
}

func TestRoleTable_Everybody(t *testing.T) {
	rt := RoleTable{core.OperationRead: {RoleEverybody}, core.OperationCreate: {"editor"}}
	someone := &core.Identity{UserID: 2}
	editor := &core.Identity{UserID: 3, Roles: []string{"editor"}}

	assert.True(t, rt.IsAuthorized(someone, core.OperationRead))
	assert.False(t, rt.IsAuthorized(nil, core.OperationRead), "anonymous is not everybody")
	assert.True(t, rt.IsAuthorized(editor, core.OperationBulkCreate))
	assert.False(t, rt.IsAuthorized(someone, core.OperationCreate))

	ctx := context.Background()
	assert.NoError(t, rt.CanCreate(ctx, editor, nil))
	assert.True(t, errors.Is(rt.CanCreate(ctx, someone, nil), apierror.CreateForbidden()))
	assert.True(t, errors.Is(rt.CanUpdate(ctx, editor, nil), apierror.UpdateForbidden()))
	assert.True(t, errors.Is(rt.CanDelete(ctx, editor, nil), apierror.DeleteForbidden()))
}

func TestOwnerScope(t *testing.T) {
	p := OwnerScope{RoleTable: RoleTable{core.OperationRead: {RoleEverybody}}, Owner: `"books"."owner_id"`}
	ctx := context.Background()
	base := query.NewSelect(`"books"`).Column(`"books"."id"`, "id")

	q, err := p.CanRead(ctx, core.Scope{Identity: &core.Identity{UserID: 9}}, base)
	require.NoError(t, err)
	sql, args := q.Build()
	assert.Equal(t, `SELECT "books"."id" AS "id" FROM "books" WHERE "books"."owner_id" = $1;`, sql)
	assert.Equal(t, []interface{}{9}, args)

	// the original query is not modified
	sql, _ = base.Build()
	assert.Equal(t, `SELECT "books"."id" AS "id" FROM "books";`, sql)

	_, err = p.CanRead(ctx, core.Scope{}, base)
	assert.True(t, errors.Is(err, apierror.ReadForbidden()))
}
