package capture

import (
	"slices"

	"github.com/aretw0/trail/pkg/core"
)

// NoInputs declares a function that consumes no data inputs.
var NoInputs = []string{}

// Spec is the declaration of an instrumented function.
//
// Inputs must always be declared. A nil Inputs is a configuration error;
// use NoInputs (or any empty, non-nil slice) for a function without data inputs.
// Arguments not named in any list are recorded as parameters.
type Spec struct {
	// Name overrides the function name taken from the symbol table, useful for closures.
	Name string

	Inputs      []string
	FileInputs  []string
	FileOutputs []string
}

// Tracked is a registered function.
type Tracked struct {
	Function core.Function
	spec     Spec
}

// Spec returns the declaration the function was registered with.
func (t *Tracked) Spec() Spec { return t.spec }

func (sp Spec) validate(function string) error {
	if sp.Inputs == nil {
		return &core.ConfigError{Function: function, Reason: "inputs not declared"}
	}
	seen := make(map[string]string)
	for _, group := range []struct {
		kind  string
		names []string
	}{
		{"inputs", sp.Inputs},
		{"file inputs", sp.FileInputs},
		{"file outputs", sp.FileOutputs},
	} {
		for _, name := range group.names {
			if name == "" {
				return &core.ConfigError{Function: function, Reason: "empty name in " + group.kind}
			}
			if prev, ok := seen[name]; ok {
				return &core.ConfigError{Function: function, Reason: name + " declared in both " + prev + " and " + group.kind}
			}
			seen[name] = group.kind
		}
	}
	return nil
}

func (sp Spec) normalize() Spec {
	return Spec{
		Name:        sp.Name,
		Inputs:      slices.Clone(sp.Inputs),
		FileInputs:  slices.Clone(sp.FileInputs),
		FileOutputs: slices.Clone(sp.FileOutputs),
	}
}

type argKind int

const (
	argParameter argKind = iota
	argInput
	argFileInput
	argFileOutput
)

func (sp Spec) kindOf(name string) argKind {
	switch {
	case slices.Contains(sp.Inputs, name):
		return argInput
	case slices.Contains(sp.FileInputs, name):
		return argFileInput
	case slices.Contains(sp.FileOutputs, name):
		return argFileOutput
	default:
		return argParameter
	}
}
