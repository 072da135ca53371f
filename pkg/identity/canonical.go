package identity

import (
	"fmt"
	"reflect"

	"github.com/davecgh/go-spew/spew"
)

// printer dumps every field, exported or not, with map keys sorted and no
// pointer addresses or capacities.
var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	SpewKeys:                true,
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// canonicalBytes encodes v deterministically. Strings and byte slices are used
// verbatim and Hasher values encode themselves. Values holding channels,
// functions or unsafe pointers have no content to encode.
func canonicalBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case Hasher:
		return t.ProvHash()
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	}
	if err := encodable(reflect.ValueOf(v), make(map[uintptr]bool)); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return []byte(printer.Sdump(v)), nil
}

func encodable(rv reflect.Value, seen map[uintptr]bool) error {
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil
		}
		return fmt.Errorf("%s has no content", rv.Type())
	case reflect.Pointer:
		if rv.IsNil() || seen[rv.Pointer()] {
			return nil
		}
		seen[rv.Pointer()] = true
		return encodable(rv.Elem(), seen)
	case reflect.Interface:
		return encodable(rv.Elem(), seen)
	case reflect.Slice, reflect.Array:
		if scalar(rv.Type().Elem()) {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := encodable(rv.Index(i), seen); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := encodable(iter.Key(), seen); err != nil {
				return err
			}
			if err := encodable(iter.Value(), seen); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if err := encodable(rv.Field(i), seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func scalar(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}
