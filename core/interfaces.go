package core

import "context"

// Auditor is an interface to receive an audit record for every modifying
// operation on a resource. The payload is the decoded request body for
// create and update, and the list of identifiers for delete.
type Auditor interface {
	Audit(ctx context.Context, resource string, operation Operation, identity *Identity, payload interface{})
}
