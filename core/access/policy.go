/*Package access provides authentication middlewares and authorization policies.

A resource without a policy is public: every operation is allowed. A resource
with a policy consults it at every operation boundary. The read check may
rewrite the query, for example to add row level predicates.
*/
package access

import (
	"context"
	"net/http"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/query"
)

// Policy is the authorization hook of a resource. Every method either allows the
// operation or returns one of the forbidden errors of package apierror.
type Policy interface {
	CanCreate(ctx context.Context, identity *core.Identity, payload interface{}) error
	CanRead(ctx context.Context, scope core.Scope, q *query.Select) (*query.Select, error)
	CanUpdate(ctx context.Context, identity *core.Identity, ids []interface{}) error
	CanDelete(ctx context.Context, identity *core.Identity, ids []interface{}) error
}

// Probe turns the result of a policy check into a boolean, for callers which only
// want to know whether an operation is allowed. Forbidden errors yield false and no
// error, all other errors are returned.
//
// Example:
//
//	allowed, err := access.Probe(policy.CanDelete(ctx, identity, ids))
func Probe(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if apiErr, ok := apierror.As(err); ok && apiErr.Status == http.StatusForbidden {
		return false, nil
	}
	return false, err
}

// DenyAll is a policy which forbids every operation. It serves as a base for
// policies which allow only some operations:
//
//	type readOnly struct{ access.DenyAll }
//
//	func (readOnly) CanRead(ctx context.Context, scope core.Scope, q *query.Select) (*query.Select, error) {
//		return q, nil
//	}
type DenyAll struct{}

// CanCreate returns create-forbidden
func (DenyAll) CanCreate(context.Context, *core.Identity, interface{}) error {
	return apierror.CreateForbidden()
}

// CanRead returns read-forbidden
func (DenyAll) CanRead(context.Context, core.Scope, *query.Select) (*query.Select, error) {
	return nil, apierror.ReadForbidden()
}

// CanUpdate returns update-forbidden
func (DenyAll) CanUpdate(context.Context, *core.Identity, []interface{}) error {
	return apierror.UpdateForbidden()
}

// CanDelete returns delete-forbidden
func (DenyAll) CanDelete(context.Context, *core.Identity, []interface{}) error {
	return apierror.DeleteForbidden()
}

// the special roles of a role table
const (
	// RolePublic grants an operation to everybody, including anonymous callers
	RolePublic = "public"
	// RoleEverybody grants an operation to every authenticated caller
	RoleEverybody = "everybody"
	// RoleAdmin is granted every operation which is not listed in the table
	RoleAdmin = "admin"
)

// RoleTable is a policy which maps operations to the roles allowed to perform them.
//
// Create covers create and bulk_create, update covers update and bulk_update.
// The "admin" role is authorized for every operation not listed in the table.
// "public" grants an operation to anonymous callers, "everybody" to all
// authenticated callers.
type RoleTable map[core.Operation][]string

// IsAuthorized returns true if the identity may perform the operation
func (rt RoleTable) IsAuthorized(identity *core.Identity, operation core.Operation) bool {
	switch operation {
	case core.OperationBulkCreate:
		operation = core.OperationCreate
	case core.OperationBulkUpdate:
		operation = core.OperationUpdate
	}
	roles, listed := rt[operation]
	if !listed {
		return identity.HasRole(RoleAdmin)
	}
	for _, role := range roles {
		switch {
		case role == RolePublic:
			return true
		case role == RoleEverybody && identity != nil:
			return true
		case identity.HasRole(role):
			return true
		}
	}
	return false
}

// CanCreate implements Policy
func (rt RoleTable) CanCreate(_ context.Context, identity *core.Identity, _ interface{}) error {
	if !rt.IsAuthorized(identity, core.OperationCreate) {
		return apierror.CreateForbidden()
	}
	return nil
}

// CanRead implements Policy, it leaves the query unchanged
func (rt RoleTable) CanRead(_ context.Context, scope core.Scope, q *query.Select) (*query.Select, error) {
	if !rt.IsAuthorized(scope.Identity, core.OperationRead) {
		return nil, apierror.ReadForbidden()
	}
	return q, nil
}

// CanUpdate implements Policy
func (rt RoleTable) CanUpdate(_ context.Context, identity *core.Identity, _ []interface{}) error {
	if !rt.IsAuthorized(identity, core.OperationUpdate) {
		return apierror.UpdateForbidden()
	}
	return nil
}

// CanDelete implements Policy
func (rt RoleTable) CanDelete(_ context.Context, identity *core.Identity, _ []interface{}) error {
	if !rt.IsAuthorized(identity, core.OperationDelete) {
		return apierror.DeleteForbidden()
	}
	return nil
}

// OwnerScope is a role table policy which restricts reads of non-admin callers
// to the rows they own. Owner is the SQL expression holding the owner's user id.
type OwnerScope struct {
	RoleTable
	Owner string
}

// CanRead implements Policy, it adds the owner predicate to the query
func (os OwnerScope) CanRead(ctx context.Context, scope core.Scope, q *query.Select) (*query.Select, error) {
	q, err := os.RoleTable.CanRead(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	if scope.Identity.HasRole(RoleAdmin) {
		return q, nil
	}
	if scope.Identity == nil {
		return nil, apierror.ReadForbidden()
	}
	return q.Clone().Where(os.Owner+" = ?", scope.Identity.UserID), nil
}
