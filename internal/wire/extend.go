package wire

import (
	"fmt"
	"reflect"
	"time"
)

// extend walks v and produces a JSON-marshalable tree where every
// time.Time becomes {"__datetime__": <utc unix seconds>} and every value
// implementing Setter becomes a plain slice.
func extend(v any) (any, error) {
	return extendValue(reflect.ValueOf(v))
}

func extendValue(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	// Unwrap interfaces and pointers (nil pointer -> nil).
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	if t, ok := rv.Interface().(time.Time); ok {
		return map[string]any{datetimeKey: t.UTC().Unix()}, nil
	}
	if s, ok := rv.Interface().(Setter); ok {
		return extendValue(reflect.ValueOf(s.WireSet()))
	}

	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			val, err := extendValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			val, err := extendValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil

	case reflect.Struct:
		out := make(map[string]any)
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			name, omitempty, skip := jsonFieldName(field)
			if skip {
				continue
			}
			fv := rv.Field(i)
			if omitempty && isEmptyValue(fv) {
				continue
			}
			val, err := extendValue(fv)
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
		return out, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, fmt.Errorf("wire: unsupported payload type %s", rv.Kind())

	default:
		return rv.Interface(), nil
	}
}

// jsonFieldName mirrors encoding/json's struct-tag rules closely enough
// for the payload structs used in this protocol (no anonymous embedding
// of tagged fields with dashes, which none of the wire types use).
func jsonFieldName(field reflect.StructField) (name string, omitempty bool, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	parts := splitTag(tag)
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	parts = append(parts, tag[start:])
	return parts
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	default:
		return false
	}
}

// restore reverses extend on a decoded JSON tree (map[string]any /
// []any / scalars as produced by encoding/json.Unmarshal into `any`): any
// object of exactly {"__datetime__": N} becomes a time.Time.
func restore(raw any) any {
	switch val := raw.(type) {
	case map[string]any:
		if len(val) == 1 {
			if n, ok := val[datetimeKey]; ok {
				if seconds, ok := asInt64(n); ok {
					return time.Unix(seconds, 0).UTC()
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = restore(v)
		}
		return out

	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = restore(v)
		}
		return out

	default:
		return raw
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
