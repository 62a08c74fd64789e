package domain

import (
	"reflect"
	"strconv"
	"time"
)

// Stringify renders a field value in culture-invariant canonical form, shared
// by the hash chain (C5), change capture (C6), and timeseries recorder (C7):
// integers as decimal, floats as shortest-round-trip, bools as true/false,
// timestamps as RFC3339 UTC. nil/invalid values stringify to the empty string.
func Stringify(v reflect.Value) string {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return ""
	}

	if v.Type() == reflect.TypeOf(time.Time{}) {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	default:
		return ""
	}
}

// StringifyAny is a convenience wrapper over Stringify for already-boxed values.
func StringifyAny(v any) string {
	if v == nil {
		return ""
	}
	return Stringify(reflect.ValueOf(v))
}
