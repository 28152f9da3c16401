package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operation represents an operation a resource can allow, one of Create, BulkCreate,
// Read, Update, BulkUpdate, Delete
type Operation string

// all supported resource operations
const (
	OperationCreate     Operation = "create"
	OperationBulkCreate Operation = "bulk_create"
	OperationRead       Operation = "read"
	OperationUpdate     Operation = "update"
	OperationBulkUpdate Operation = "bulk_update"
	OperationDelete     Operation = "delete"
)

// AllOperations lists every supported operation
var AllOperations = []Operation{
	OperationCreate,
	OperationBulkCreate,
	OperationRead,
	OperationUpdate,
	OperationBulkUpdate,
	OperationDelete,
}

// Valid returns true if o is a known operation
func (o Operation) Valid() bool {
	for _, known := range AllOperations {
		if o == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	if !o.Valid() {
		return fmt.Errorf("%s is not valid Operation", s)
	}
	return nil
}

// Scope describes the read request a relation lookup or a read policy is
// working for. IDs holds the identifiers matched by the primary query, it is
// empty before the query was executed. IDExpr is the SQL expression of the
// id field of Resource, the values of IDs are values of this expression.
type Scope struct {
	Resource   string
	Identity   *Identity
	ResourceID interface{}
	IDs        []interface{}
	IDExpr     string
}

// IsList returns true if the scope addresses a list rather than a single item
func (s Scope) IsList() bool {
	return s.ResourceID == nil
}

// SplitList splits a comma separated parameter into its trimmed, non-empty parts.
//
// Example: "a, b,,c" becomes ["a", "b", "c"]
func SplitList(values ...string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}
