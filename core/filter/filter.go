/*Package filter parses filter query parameters.

A filter parameter has the form

	<field>[<operator>]=<value>

for example title[ilike]=fir or id[in]=1,2,3. Parameters which do not name a
known field are ignored, they may be pagination, sort or include parameters.
*/
package filter

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/relabs-tech/awokado/core/apierror"
)

// Operator is a filter operator
type Operator string

// the supported operators
const (
	LTE      Operator = "lte"
	EQ       Operator = "eq"
	GTE      Operator = "gte"
	LT       Operator = "lt"
	GT       Operator = "gt"
	ILike    Operator = "ilike"
	In       Operator = "in"
	Empty    Operator = "empty"
	NotEmpty Operator = "notempty"
	Contains Operator = "contains"
)

var operators = map[string]Operator{
	"lte":      LTE,
	"eq":       EQ,
	"gte":      GTE,
	"lt":       LT,
	"gt":       GT,
	"ilike":    ILike,
	"in":       In,
	"empty":    Empty,
	"notempty": NotEmpty,
	"contains": Contains,
}

// Item is a single parsed filter predicate
type Item struct {
	Field    string
	Operator Operator
	Value    interface{}
}

var pattern = regexp.MustCompile(`^([A-Za-z0-9_]+)\[([a-z]+)\]$`)

// Parse returns the filter items of params for the given field names. Items are
// ordered by parameter key. An unknown operator on a known field is a bad-filter error.
func Parse(params url.Values, fieldNames []string) ([]Item, error) {
	known := make(map[string]bool, len(fieldNames))
	for _, name := range fieldNames {
		known[name] = true
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var items []Item
	for _, key := range keys {
		match := pattern.FindStringSubmatch(key)
		if match == nil || !known[match[1]] {
			continue
		}
		values := params[key]
		if len(values) == 0 || values[0] == "" {
			continue
		}
		op, ok := operators[match[2]]
		if !ok {
			return nil, apierror.BadFilterf("Operator %s doesn't exist", match[2])
		}

		var value interface{} = values[0]
		switch op {
		case In, Contains:
			value = toList(values)
		case Empty:
			if values[0] == "false" {
				op = NotEmpty
			}
		}
		items = append(items, Item{Field: match[1], Operator: op, Value: value})
	}
	return items, nil
}

func toList(values []string) []interface{} {
	var list []interface{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			list = append(list, part)
		}
	}
	return list
}

// ValueToNative turns a raw filter value into a native value. Lists and integers
// are returned unchanged, "true" and "false" become booleans, "null" and "none"
// become nil. Everything else is returned unchanged for field deserialization.
func ValueToNative(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}, int, int64:
		return v
	case bool:
		return v
	case string:
		switch v {
		case "true", "True":
			return true
		case "false", "False":
			return false
		case "null", "none", "None":
			return nil
		}
	}
	return value
}

// Wrap applies the operator specific value wrapping, i.e. %v% for ilike
func (i Item) Wrap(value interface{}) interface{} {
	if i.Operator == ILike {
		if s, ok := value.(string); ok {
			return "%" + s + "%"
		}
	}
	return value
}
