package capture

import (
	"fmt"

	"github.com/aretw0/trail/pkg/core"
)

// Arg is one actual argument of a tracked call, named after the formal parameter.
// Whether it is recorded as a data input, a file or a parameter depends on the
// Spec the function was registered with.
type Arg struct {
	Name  string
	Value any
}

// A is shorthand for building an Arg.
func A(name string, value any) Arg { return Arg{Name: name, Value: value} }

// Many marks a declared input that carries several values. Each element is
// used separately under the role "name[i]".
type Many []any

// ManyOf converts a typed slice to Many.
func ManyOf[T any](values []T) Many {
	out := make(Many, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Access is a value reached from Parent by attribute access, indexing or slicing.
// Parent may itself be an Access.
type Access struct {
	Parent   any
	Accessor core.Accessor
	Value    any
}

// At describes parent[i].
func At(parent any, i int, value any) Access {
	return Access{Parent: parent, Accessor: core.Index(i), Value: value}
}

// Field describes parent.name.
func Field(parent any, name string, value any) Access {
	return Access{Parent: parent, Accessor: core.Attribute(name), Value: value}
}

// Sliced describes parent[start:stop].
func Sliced(parent any, start, stop int, value any) Access {
	return Access{Parent: parent, Accessor: core.Slice(start, stop), Value: value}
}

func pathOf(v any) (string, error) {
	switch p := v.(type) {
	case string:
		return p, nil
	case fmt.Stringer:
		return p.String(), nil
	default:
		return "", fmt.Errorf("file argument must be a path, got %T", v)
	}
}
