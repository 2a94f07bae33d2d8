package testutil

import (
	"fmt"
	"reflect"
	"strings"
)

// DeepEqual compares x and y like reflect.DeepEqual, but also returns a
// trace of the path to the first difference. The trace is empty when the
// values are equal.
func DeepEqual(x, y interface{}) (bool, string) {
	if x == nil || y == nil {
		if x == y {
			return true, ""
		}
		return false, fmt.Sprintf("%#v != %#v", x, y)
	}

	v1 := reflect.ValueOf(x)
	v2 := reflect.ValueOf(y)
	if v1.Type() != v2.Type() {
		return false, fmt.Sprintf("type %s != type %s", v1.Type(), v2.Type())
	}
	return valueEqual(v1, v2, nil)
}

func differ(path []string, v1, v2 reflect.Value) (bool, string) {
	return false, fmt.Sprintf("%s: %#v != %#v", strings.Join(path, ""), v1, v2)
}

func valueEqual(v1, v2 reflect.Value, path []string) (bool, string) {
	if !v1.IsValid() || !v2.IsValid() {
		if v1.IsValid() == v2.IsValid() {
			return true, ""
		}
		return differ(path, v1, v2)
	}
	if v1.Type() != v2.Type() {
		return differ(path, v1, v2)
	}

	switch v1.Kind() {
	case reflect.Slice:
		if v1.IsNil() != v2.IsNil() || v1.Len() != v2.Len() {
			return differ(path, v1, v2)
		}
		if v1.Len() > 0 && v1.Pointer() == v2.Pointer() {
			return true, ""
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v1.Len(); i++ {
			ok, trc := valueEqual(v1.Index(i), v2.Index(i),
				append(path, fmt.Sprintf("[%d]", i)))
			if !ok {
				return false, trc
			}
		}
	case reflect.Ptr:
		if v1.Pointer() == v2.Pointer() {
			return true, ""
		}
		return valueEqual(v1.Elem(), v2.Elem(), path)
	case reflect.Interface:
		if v1.IsNil() || v2.IsNil() {
			if v1.IsNil() == v2.IsNil() {
				return true, ""
			}
			return differ(path, v1, v2)
		}
		return valueEqual(v1.Elem(), v2.Elem(), path)
	case reflect.Struct:
		for i := 0; i < v1.NumField(); i++ {
			ok, trc := valueEqual(v1.Field(i), v2.Field(i),
				append(path, "."+v1.Type().Field(i).Name))
			if !ok {
				return false, trc
			}
		}
	case reflect.Map:
		if v1.IsNil() != v2.IsNil() || v1.Len() != v2.Len() {
			return differ(path, v1, v2)
		}
		if v1.Len() > 0 && v1.Pointer() == v2.Pointer() {
			return true, ""
		}
		for _, k := range v1.MapKeys() {
			mv1 := v1.MapIndex(k)
			mv2 := v2.MapIndex(k)
			if !mv1.IsValid() || !mv2.IsValid() {
				return differ(path, v1, v2)
			}
			ok, trc := valueEqual(mv1, mv2, append(path, fmt.Sprintf("[%v]", k)))
			if !ok {
				return false, trc
			}
		}
	case reflect.Func:
		if !v1.IsNil() || !v2.IsNil() {
			return differ(path, v1, v2)
		}
	default:
		if v1.Interface() != v2.Interface() {
			return differ(path, v1, v2)
		}
	}
	return true, ""
}
