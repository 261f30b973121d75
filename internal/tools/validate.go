package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ValidateArgs checks args against schema and returns a normalized copy with
// defaults filled in for absent optional arguments. Validation fails on a
// missing required argument, an argument of the wrong type, a value outside
// its enum, or an argument the schema does not declare.
//
// Schemas without properties accept any arguments; only Required is checked.
func ValidateArgs(schema ToolSchema, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args)+len(schema.Properties))
	for k, v := range args {
		out[k] = v
	}

	for _, name := range schema.Required {
		if v, ok := args[name]; !ok || v == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequiredArg, name)
		}
	}

	if len(schema.Properties) == 0 {
		return out, nil
	}

	// Sorted so the first reported error is stable.
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := schema.Properties[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownArg, name)
		}
		v, err := coerce(prop, args[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgType, name, err)
		}
		if len(prop.Enum) > 0 && !inEnum(prop.Enum, v) {
			return nil, fmt.Errorf("%w: %s must be one of %v, got %v", ErrInvalidArgValue, name, prop.Enum, v)
		}
		out[name] = v
	}

	for name, prop := range schema.Properties {
		if _, ok := out[name]; !ok && prop.Default != nil {
			out[name] = prop.Default
		}
	}
	return out, nil
}

// coerce checks v against the property type. Whole JSON numbers are accepted
// as integers and returned as int.
func coerce(prop Property, v any) (any, error) {
	switch prop.Type {
	case "", "any":
		return v, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInteger:
		if n, ok := asInt(v); ok {
			return n, nil
		}
	case TypeNumber:
		if f, ok := asFloat(v); ok {
			return f, nil
		}
	case TypeArray:
		items, ok := asSlice(v)
		if !ok {
			break
		}
		if prop.Items != nil {
			for i, item := range items {
				if _, err := coerce(Property{Type: prop.Items.Type}, item); err != nil {
					return nil, fmt.Errorf("item %d: %v", i, err)
				}
			}
		}
		return items, nil
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	default:
		return nil, fmt.Errorf("schema declares unsupported type %q", prop.Type)
	}
	return nil, fmt.Errorf("expected %s, got %T", prop.Type, v)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func inEnum(enum []any, v any) bool {
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return false
	}
	for _, e := range enum {
		if e == v {
			return true
		}
		// Enum literals may be declared as int while decoded JSON is float64.
		if ef, ok := asFloat(e); ok {
			if vf, ok := asFloat(v); ok && ef == vf {
				return true
			}
		}
	}
	return false
}

// StringSlice reads a validated array argument as strings.
func StringSlice(args map[string]any, name string) []string {
	items, ok := asSlice(args[name])
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Int reads a validated integer argument, returning def when absent.
func Int(args map[string]any, name string, def int) int {
	if n, ok := asInt(args[name]); ok {
		return n
	}
	return def
}

// String reads a string argument, returning def when absent.
func String(args map[string]any, name, def string) string {
	if s, ok := args[name].(string); ok {
		return s
	}
	return def
}
