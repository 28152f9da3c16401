package field

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/relabs-tech/awokado/core/apierror"
)

func (f *Field) invalid(format string, a ...interface{}) error {
	return apierror.BadRequest(map[string][]string{f.Name: {fmt.Sprintf(format, a...)}})
}

// Deserialize converts a JSON or query string value into the declared type of the
// field. For to-many fields and array types, v must be a list and every element
// is converted. Null is accepted and returned as nil.
func (f *Field) Deserialize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind == KindToMany || f.Type.IsArray() {
		list, ok := v.([]interface{})
		if !ok {
			if strs, isStrings := v.([]string); isStrings {
				list = make([]interface{}, len(strs))
				for i, s := range strs {
					list[i] = s
				}
			} else {
				return nil, f.invalid("Not a valid list.")
			}
		}
		return f.DeserializeList(list)
	}
	return f.deserializeValue(v)
}

// DeserializeList converts every element of list into the element type of the field
func (f *Field) DeserializeList(list []interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(list))
	for i, item := range list {
		value, err := f.deserializeValue(item)
		if err != nil {
			return nil, err
		}
		result[i] = value
	}
	return result, nil
}

func (f *Field) deserializeValue(v interface{}) (interface{}, error) {
	value, err := coerce(f.Type.Element(), v)
	if err != nil {
		return nil, f.invalid("%s", err.Error())
	}
	if f.Kind == KindChoice && value != nil {
		for _, allowed := range f.AllowedValues {
			if fmt.Sprint(allowed) == fmt.Sprint(value) {
				return value, nil
			}
		}
		return nil, f.invalid("Must be one of: %s.", joinValues(f.AllowedValues))
	}
	return value, nil
}

func joinValues(values []interface{}) string {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprint(v)
	}
	return strings.Join(strs, ", ")
}

func coerce(t Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("Not a valid integer.")
			}
			return int64(n), nil
		case json.Number:
			return n.Int64()
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("Not a valid integer.")
			}
			return i, nil
		}
		return nil, fmt.Errorf("Not a valid integer.")
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		case string:
			x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("Not a valid number.")
			}
			return x, nil
		}
		return nil, fmt.Errorf("Not a valid number.")
	case String:
		switch s := v.(type) {
		case string:
			return s, nil
		case int, int64, float64, bool, json.Number:
			return fmt.Sprint(s), nil
		}
		return nil, fmt.Errorf("Not a valid string.")
	case Bool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(b) {
			case "true", "1", "yes", "on":
				return true, nil
			case "false", "0", "no", "off":
				return false, nil
			}
		case int64:
			return b != 0, nil
		case float64:
			return b != 0, nil
		}
		return nil, fmt.Errorf("Not a valid boolean.")
	case Time:
		switch tv := v.(type) {
		case time.Time:
			return tv, nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
				if parsed, err := time.Parse(layout, tv); err == nil {
					return parsed, nil
				}
			}
		}
		return nil, fmt.Errorf("Not a valid datetime.")
	}
	return nil, fmt.Errorf("unsupported type %d", t)
}

// ScanTarget returns a destination for scanning the field's column from a row
func (f *Field) ScanTarget() interface{} {
	if f.Kind == KindToMany || f.Type.IsArray() {
		if f.Type.Element() == String {
			return &pq.StringArray{}
		}
		return &pq.Int64Array{}
	}
	return new(interface{})
}

// Dump converts a value scanned with ScanTarget into its JSON shape.
// To-many relations are never null, they dump as an empty list.
func (f *Field) Dump(scanned interface{}) interface{} {
	switch v := scanned.(type) {
	case *pq.Int64Array:
		if *v == nil {
			return []int64{}
		}
		return []int64(*v)
	case *pq.StringArray:
		if *v == nil {
			return []string{}
		}
		return []string(*v)
	case *interface{}:
		return f.dumpValue(*v)
	}
	return f.dumpValue(scanned)
}

func (f *Field) dumpValue(v interface{}) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	s := string(b)
	switch f.Type {
	case Float:
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return x
		}
	case Int:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	return s
}
