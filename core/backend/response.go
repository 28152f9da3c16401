package backend

import (
	"github.com/relabs-tech/awokado/core/resource"
)

// the keys of list envelopes
const (
	PayloadKey = "payload"
	MetaKey    = "meta"
	TotalKey   = "total"
)

// Envelope returns the response body of a read.
//
// A single object is wrapped in a list under the resource name, included relations
// are siblings of it:
//
//	{"book": [{...}], "author": [{...}]}
//
// A list is wrapped in a payload with meta information:
//
//	{"payload": {"book": [...], "author": [...]}, "meta": {"total": 3}}
//
// meta is null if the resource disables totals.
func Envelope(d *resource.Definition, list bool, rows []resource.Row, related map[string][]resource.Row, total int) map[string]interface{} {
	if rows == nil {
		rows = []resource.Row{}
	}
	payload := map[string]interface{}{}
	if len(rows) > 0 {
		for name, relatedRows := range related {
			payload[name] = relatedRows
		}
	}
	payload[d.Name] = rows
	if !list {
		return payload
	}

	var meta interface{}
	if !d.DisableTotal {
		meta = map[string]interface{}{TotalKey: total}
	}
	return map[string]interface{}{
		PayloadKey: payload,
		MetaKey:    meta,
	}
}
