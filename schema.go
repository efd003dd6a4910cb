package syncstate

import (
	"encoding"
	"reflect"
	"sort"
	"strings"
	"time"
)

// FieldDescriptor names one leaf of a sync state and its Go type. Nested
// maps and structs are flattened into dotted paths.
type FieldDescriptor struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// DescribeSnapshot flattens snapshot into sorted field descriptors. Struct
// fields use their json names; time values, text marshalers, slices and
// empty maps are leaves.
func DescribeSnapshot(snapshot map[string]any) []FieldDescriptor {
	fields := []FieldDescriptor{}
	for _, name := range sortedKeys(snapshot) {
		fields = describeValue(fields, name, reflect.ValueOf(snapshot[name]))
	}
	return fields
}

func describeValue(fields []FieldDescriptor, path string, v reflect.Value) []FieldDescriptor {
	if !v.IsValid() {
		return append(fields, FieldDescriptor{Path: path, Type: "nil"})
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return append(fields, FieldDescriptor{Path: path, Type: v.Type().String()})
		}
		v = v.Elem()
	}
	t := v.Type()
	if t == timeType || t.Implements(textMarshalerType) {
		return append(fields, FieldDescriptor{Path: path, Type: t.String()})
	}

	switch t.Kind() {
	case reflect.Map:
		if t.Key().Kind() != reflect.String || v.Len() == 0 {
			break
		}
		keys := make([]string, 0, v.Len())
		for _, key := range v.MapKeys() {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		for _, key := range keys {
			fields = describeValue(fields, path+"."+key, v.MapIndex(reflect.ValueOf(key).Convert(t.Key())))
		}
		return fields
	case reflect.Struct:
		start := len(fields)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name, ok := jsonFieldName(field)
			if !ok {
				continue
			}
			fields = describeValue(fields, path+"."+name, v.Field(i))
		}
		if len(fields) > start {
			return fields
		}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Interface && v.Len() > 0 {
			return append(fields, FieldDescriptor{Path: path, Type: "[]" + elemTypeName(v.Index(0))})
		}
	}
	return append(fields, FieldDescriptor{Path: path, Type: t.String()})
}

func elemTypeName(v reflect.Value) string {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		return v.Elem().Type().String()
	}
	return "any"
}

// jsonFieldName reports the name encoding/json would use for field.
func jsonFieldName(field reflect.StructField) (string, bool) {
	if !field.IsExported() {
		return "", false
	}
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	return name, true
}
