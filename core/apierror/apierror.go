/*Package apierror provides the structured errors of the REST api.

Every error carries an HTTP status, a machine readable code and a human
readable detail. Clients branch on the code, which is stable.

Errors are serialized as

	{"status": "400 Bad Request", "title": "400 Bad Request", "code": "bad-filter", "detail": "..."}

where code and detail are omitted when empty.
*/
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

// Error is an error with an HTTP status
type Error struct {
	Status int
	Code   string
	Detail interface{}
}

// StatusLine returns the status as HTTP status line, e.g. "404 Not Found"
func (e *Error) StatusLine() string {
	return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
}

func (e *Error) Error() string {
	if e.Detail == nil || e.Detail == "" {
		return e.StatusLine()
	}
	return fmt.Sprintf("%s. %v", e.StatusLine(), e.Detail)
}

// MarshalJSON is a custom JSON marshaller
func (e *Error) MarshalJSON() ([]byte, error) {
	body := struct {
		Status string      `json:"status"`
		Title  string      `json:"title"`
		Code   string      `json:"code,omitempty"`
		Detail interface{} `json:"detail,omitempty"`
	}{
		Status: e.StatusLine(),
		Title:  e.StatusLine(),
		Code:   e.Code,
	}
	if e.Detail != "" {
		body.Detail = e.Detail
	}
	return json.Marshal(body)
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new error
func New(status int, code string, detail interface{}) *Error {
	return &Error{Status: status, Code: code, Detail: detail}
}

// BadRequest is the generic 400 error. detail is either a message or a
// structured map, e.g. the validation errors per field
func BadRequest(detail interface{}) *Error {
	return New(http.StatusBadRequest, "bad-request", detail)
}

// BadFilter is returned for unknown filter operators or filters on fields without storage
func BadFilter(filter string) *Error {
	detail := "Filter is not supported"
	if filter != "" {
		detail = fmt.Sprintf("Filter %s is not supported", filter)
	}
	return New(http.StatusBadRequest, "bad-filter", detail)
}

// BadFilterf is a bad-filter error with a formatted detail
func BadFilterf(format string, a ...interface{}) *Error {
	return New(http.StatusBadRequest, "bad-filter", fmt.Sprintf(format, a...))
}

// BadLimitOffset is returned for invalid limit or offset parameters
func BadLimitOffset() *Error {
	return New(http.StatusBadRequest, "bad-limit-offset", "Limit or offset out of range")
}

// IDFieldMissing is returned when a resource has no usable id field
func IDFieldMissing() *Error {
	return New(http.StatusBadRequest, "id-field-missing", "")
}

// UnsupportedMethod is returned for HTTP methods a route does not support
func UnsupportedMethod(method string) *Error {
	detail := "Method is not supported"
	if method != "" {
		detail = fmt.Sprintf("Method %s is not supported", method)
	}
	return New(http.StatusBadRequest, "unsupported-method", detail)
}

// Forbidden is the generic 403 error
func Forbidden(detail interface{}) *Error {
	return New(http.StatusForbidden, "forbidden", detail)
}

// CreateForbidden is returned by authorization policies that deny a creation
func CreateForbidden() *Error {
	return New(http.StatusForbidden, "create-forbidden", "The creation of a resource forbidden")
}

// ReadForbidden is returned by authorization policies that deny a read
func ReadForbidden() *Error {
	return New(http.StatusForbidden, "read-forbidden", "Read the resource is forbidden")
}

// UpdateForbidden is returned by authorization policies that deny an update
func UpdateForbidden() *Error {
	return New(http.StatusForbidden, "update-forbidden", "Change the resource is forbidden")
}

// DeleteForbidden is returned by authorization policies that deny a deletion
func DeleteForbidden() *Error {
	return New(http.StatusForbidden, "delete-forbidden", "Delete the resource is forbidden")
}

// NotFound is the generic 404 error
func NotFound(detail interface{}) *Error {
	return New(http.StatusNotFound, "not-found", detail)
}

// ResourceNotFound is returned when a resource name is unknown
func ResourceNotFound(resource string) *Error {
	detail := "Resource not found"
	if resource != "" {
		detail = fmt.Sprintf("Resource \"%s\" not found", resource)
	}
	return New(http.StatusNotFound, "resource-not-found", detail)
}

// RelationNotFound is returned for include tokens which do not name a relation
func RelationNotFound(relation string) *Error {
	detail := "Relation not found"
	if relation != "" {
		detail = fmt.Sprintf("Relation %s not found", relation)
	}
	return New(http.StatusNotFound, "relation-not-found", detail)
}

// MethodNotAllowed is returned when an operation is not allowed for a resource
func MethodNotAllowed(detail interface{}) *Error {
	return New(http.StatusMethodNotAllowed, "method-not-allowed", detail)
}

// AuthError is returned for invalid authentication tokens
func AuthError(detail string) *Error {
	if detail == "" {
		detail = "Authorization error"
	}
	return New(http.StatusUnauthorized, "auth-error", detail)
}

// As returns the *Error wrapped in err, if any
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// postgres error codes which are caused by the request rather than the server
var clientErrorCodes = map[pq.ErrorCode]bool{
	"22P02": true, // invalid_text_representation
	"23502": true, // not_null_violation
	"23503": true, // foreign_key_violation
	"23505": true, // unique_violation
}

// FromDatabase converts a postgres error caused by invalid input into a bad request.
// All other errors are returned unchanged.
func FromDatabase(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	if clientErrorCodes[pqErr.Code] {
		detail := pqErr.Message
		if pqErr.Detail != "" {
			detail += ": " + pqErr.Detail
		}
		return BadRequest(detail)
	}
	return err
}

// Write writes err as JSON error response. Errors which are not api errors result
// in an internal server error; in debug mode the body then carries the error text.
func Write(w http.ResponseWriter, err error, debug bool) {
	apiErr, ok := As(FromDatabase(err))
	if !ok {
		apiErr = New(http.StatusInternalServerError, "", "")
		if debug {
			apiErr.Detail = err.Error()
		}
	}
	body, _ := json.Marshal(apiErr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	w.Write(body)
}
