/*Package schema validates request payloads with JSON schemas.

The schemas of a resource are generated from its field model: one for creating an
object, where required fields must be present, and one for updating an object,
where only the id field is required. Unknown fields and read-only fields are
rejected in both.
*/
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/awokado/core/field"
	"github.com/relabs-tech/awokado/core/resource"
)

// Mode selects the schema of a resource
type Mode string

// the schema modes
const (
	Create Mode = "create"
	Update Mode = "update"
)

// ID returns the schema id of a resource for the given mode
func ID(resourceName string, mode Mode) string {
	return fmt.Sprintf("https://awokado.local/schemas/%s/%s.json", resourceName, mode)
}

// Validator is a utility to validate JSON object against a given schema
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others. If a reference is mentioned, it can only be in the list of refs
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		sl := gojsonschema.NewSchemaLoader()

		for _, ref := range refs {
			loader := gojsonschema.NewStringLoader(ref)
			err := sl.AddSchemas(loader)
			if err != nil {
				return nil, fmt.Errorf("cannot add ref %s %s", refs, err)
			}
		}
		schema, err := sl.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s %s", s.ID, err)
		}
		validator.schemaValidators[s.ID] = schema
	}

	return &validator, nil
}

// NewValidatorForResources creates a Validator with the create and update schemas of
// all resources which allow modifying operations
func NewValidatorForResources(definitions []*resource.Definition) (*Validator, error) {
	var schemas []string
	for _, d := range definitions {
		if !d.Writes() {
			continue
		}
		for _, mode := range []Mode{Create, Update} {
			s, err := Generate(d, mode)
			if err != nil {
				return nil, err
			}
			schemas = append(schemas, s)
		}
	}
	return NewValidator(schemas, nil)
}

// Generate returns the JSON schema of one object of the resource
func Generate(d *resource.Definition, mode Mode) (string, error) {
	properties := map[string]interface{}{}
	required := []string{}
	idName := ""
	if id := d.ID(); id != nil {
		idName = id.Name
	}
	for _, f := range d.Fields {
		isID := mode == Update && f.Name == idName
		if !f.Writable() && !isID {
			continue
		}
		property := propertySchema(f)
		if isID {
			property = typeSchema(f, false)
		}
		properties[f.Name] = property
		if (mode == Create && f.Required) || isID {
			required = append(required, f.Name)
		}
	}
	sort.Strings(required)
	s := map[string]interface{}{
		"$id":                  ID(d.Name, mode),
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("cannot generate schema for %s: %w", d.Name, err)
	}
	return string(data), nil
}

func jsonType(t field.Type) string {
	switch t {
	case field.Int:
		return "integer"
	case field.Float:
		return "number"
	case field.Bool:
		return "boolean"
	}
	return "string"
}

func typeSchema(f *field.Field, nullable bool) map[string]interface{} {
	var s map[string]interface{}
	if f.Kind == field.KindToMany || f.Type.IsArray() {
		s = map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": jsonType(f.Type.Element())},
		}
	} else {
		s = map[string]interface{}{"type": jsonType(f.Type)}
		if f.Type == field.Time {
			s["format"] = "date-time"
		}
	}
	if nullable {
		s["type"] = []interface{}{s["type"], "null"}
	}
	return s
}

func propertySchema(f *field.Field) map[string]interface{} {
	s := typeSchema(f, f.Nullable)
	if f.Kind == field.KindChoice {
		allowed := append([]interface{}{}, f.AllowedValues...)
		if f.Nullable {
			allowed = append(allowed, nil)
		}
		s["enum"] = allowed
	}
	if f.Description != "" {
		s["description"] = f.Description
	}
	return s
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateStruct validates the given json as a struct against schemaID. If no error is returned,
// then the passed json is valid
func (v *Validator) ValidateStruct(json interface{}, schemaID string) error {
	errs, err := v.Validate(json, schemaID)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateString validates the given json against schemaID. If no error is returned, then the
// passed json is valid
func (v *Validator) ValidateString(json, schemaID string) error {
	errs, err := v.validate(gojsonschema.NewStringLoader(json), schemaID)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate validates a decoded JSON value against schemaID and returns the messages per field.
// The error is only set if the validation could not be performed.
func (v *Validator) Validate(value interface{}, schemaID string) (FieldErrors, error) {
	return v.validate(gojsonschema.NewGoLoader(value), schemaID)
}

// FieldErrors are validation messages per field
type FieldErrors map[string][]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("the document is not valid :\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", k, strings.Join(fe[k], " ")))
	}
	return sb.String()
}

// validate validates the given loader against schemaID.
func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) (FieldErrors, error) {

	schema, ok := v.schemaValidators[schemaID]
	if !ok {
		return nil, fmt.Errorf("there is no schema %s ", schemaID)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("cannot validate with schema %s %s", schemaID, err)
	}

	if result.Valid() {
		return nil, nil
	}
	errs := FieldErrors{}
	for _, e := range result.Errors() {
		name, message := describe(e)
		errs[name] = append(errs[name], message)
	}
	return errs, nil
}

// describe maps a schema violation to the field it concerns and a message
func describe(e gojsonschema.ResultError) (string, string) {
	name := e.Field()
	property, _ := e.Details()["property"].(string)
	switch e.Type() {
	case "required":
		return property, "Missing data for required field."
	case "additional_property_not_allowed":
		return property, "Unknown field."
	case "invalid_type":
		if e.Value() == nil {
			return name, "Field may not be null."
		}
		expected, _ := e.Details()["expected"].(string)
		// nullable types are reported as [type,null]
		expected = strings.TrimPrefix(expected, "[")
		switch {
		case strings.HasPrefix(expected, "integer"):
			return name, "Not a valid integer."
		case strings.HasPrefix(expected, "number"):
			return name, "Not a valid number."
		case strings.HasPrefix(expected, "boolean"):
			return name, "Not a valid boolean."
		case strings.HasPrefix(expected, "array"):
			return name, "Not a valid list."
		case strings.HasPrefix(expected, "object"):
			return name, "Invalid input type."
		}
		return name, "Not a valid string."
	case "enum":
		allowed, _ := e.Details()["allowed"].(string)
		return name, "Must be one of: " + allowed + "."
	case "format":
		return name, "Not a valid datetime."
	}
	return name, e.Description()
}

// ItemErrors keys the validation messages of a list payload by item index
func ItemErrors(errs map[int]FieldErrors) map[string]FieldErrors {
	result := make(map[string]FieldErrors, len(errs))
	for i, fe := range errs {
		result[strconv.Itoa(i)] = fe
	}
	return result
}
