package openapi

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	timeType          = reflect.TypeOf(time.Time{})
	durationType      = reflect.TypeOf(time.Duration(0))
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// SchemaFor returns the OpenAPI schema of values of type t as they appear in
// the JSON encoding of a sync state.
func SchemaFor(t reflect.Type) (map[string]any, error) {
	return buildSchema(t, map[reflect.Type]bool{})
}

func buildSchema(t reflect.Type, visiting map[reflect.Type]bool) (map[string]any, error) {
	if t == nil {
		return map[string]any{}, nil
	}

	nullable := false
	for t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}
	schema, err := schemaForType(t, visiting)
	if err != nil {
		return nil, err
	}
	if nullable {
		schema["nullable"] = true
	}
	return schema, nil
}

func schemaForType(t reflect.Type, visiting map[reflect.Type]bool) (map[string]any, error) {
	switch {
	case t == timeType:
		return map[string]any{"type": "string", "format": "date-time"}, nil
	case t == durationType:
		return map[string]any{"type": "integer", "format": "int64", "description": "nanoseconds"}, nil
	case t.Kind() != reflect.String && t.Implements(textMarshalerType):
		return map[string]any{"type": "string"}, nil
	}

	switch t.Kind() {
	case reflect.Interface:
		return map[string]any{}, nil
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr:
		return map[string]any{"type": "integer"}, nil
	case reflect.Int64, reflect.Uint64:
		return map[string]any{"type": "integer", "format": "int64"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Struct:
		return schemaForStruct(t, visiting)
	case reflect.Map:
		return schemaForMap(t, visiting)
	case reflect.Slice, reflect.Array:
		return schemaForSlice(t, visiting)
	default:
		return nil, fmt.Errorf("openapi: type %s cannot be encoded", t)
	}
}

func schemaForMap(t reflect.Type, visiting map[reflect.Type]bool) (map[string]any, error) {
	if t.Key().Kind() != reflect.String {
		return nil, fmt.Errorf("openapi: map key type %s unsupported", t.Key())
	}
	values, err := buildSchema(t.Elem(), visiting)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": values,
	}, nil
}

func schemaForStruct(t reflect.Type, visiting map[reflect.Type]bool) (map[string]any, error) {
	if visiting[t] {
		return map[string]any{"type": "object"}, nil
	}
	visiting[t] = true
	defer delete(visiting, t)

	properties := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" {
			tagName := strings.Split(tag, ",")[0]
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}

		child, err := buildSchema(field.Type, visiting)
		if err != nil {
			return nil, fmt.Errorf("openapi: field %s.%s: %w", t.Name(), field.Name, err)
		}
		properties[name] = child
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func schemaForSlice(t reflect.Type, visiting map[reflect.Type]bool) (map[string]any, error) {
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return map[string]any{
			"type":   "string",
			"format": "byte",
		}, nil
	}
	items, err := buildSchema(t.Elem(), visiting)
	if err != nil {
		return nil, err
	}
	schema := map[string]any{
		"type":  "array",
		"items": items,
	}
	if t.Kind() == reflect.Array {
		schema["minItems"] = t.Len()
		schema["maxItems"] = t.Len()
	}
	return schema, nil
}
