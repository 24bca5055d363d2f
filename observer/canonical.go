package observer

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Tuple is the canonical, immutable form of any sequence-valued field.
type Tuple []any

var (
	timeType   = reflect.TypeOf(time.Time{})
	valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// Canonical converts v into a value that compares structurally with Equal.
// The result never aliases memory reachable from v.
func Canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case Tuple:
		return canonicalSlice(reflect.ValueOf(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return canonicalFloat(f)
		}
		return x.String()
	case time.Time:
		return x.UTC().Round(0)
	case []byte:
		return string(x)
	}
	return canonicalValue(reflect.ValueOf(v))
}

func canonicalValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Implements(valuerType) {
			return canonicalValuer(rv)
		}
		return canonicalValue(rv.Elem())
	}
	if rv.Type() == timeType {
		return rv.Interface().(time.Time).UTC().Round(0)
	}
	if rv.Type().Implements(valuerType) {
		return canonicalValuer(rv)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return u
	case reflect.Float32, reflect.Float64:
		return canonicalFloat(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.IsNil() {
			return Tuple{}
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		return canonicalSlice(rv)
	case reflect.Array:
		return canonicalSlice(rv)
	case reflect.Map:
		if rv.IsNil() {
			return map[string]any{}
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(Canonical(iter.Key().Interface()))] = Canonical(iter.Value().Interface())
		}
		return out
	default:
		if rv.CanInterface() {
			return rv.Interface()
		}
		return fmt.Sprint(rv)
	}
}

// canonicalFloat maps integral floats onto int64 so that 30.0 and 30 compare
// equal.
func canonicalFloat(f float64) any {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return f
	}
	return int64(f)
}

func canonicalValuer(rv reflect.Value) any {
	val, err := rv.Interface().(driver.Valuer).Value()
	if err != nil {
		return fmt.Sprintf("!valuer(%v)", err)
	}
	return Canonical(val)
}

func canonicalSlice(rv reflect.Value) Tuple {
	out := make(Tuple, rv.Len())
	for i := range out {
		out[i] = Canonical(rv.Index(i).Interface())
	}
	return out
}

// Equal reports whether a and b are equal after canonicalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Canonical(a), Canonical(b))
}

// NormalizeID maps identifiers of different integer or string types onto one
// representation so that uint(3), int64(3) and 3 address the same record.
func NormalizeID(id any) any {
	if id == nil {
		return nil
	}
	rv := reflect.ValueOf(id)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return u
	case reflect.String:
		return rv.String()
	}
	if rv.Type().Comparable() {
		return rv.Interface()
	}
	return fmt.Sprint(rv.Interface())
}

func isZeroID(id any) bool {
	if id == nil {
		return true
	}
	rv := reflect.ValueOf(id)
	return !rv.IsValid() || rv.IsZero()
}
