package capture

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trail/pkg/core"
	"github.com/aretw0/trail/pkg/identity"
)

type pipeline struct {
	fs        afero.Fs
	session   *Session
	load      *Tracked
	transform *Tracked
	save      *Tracked
}

func load(fs afero.Fs, path string) ([]string, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n"), nil
}

func transform(data []string, k int) []string {
	out := make([]string, 0, len(data)*k)
	for _, d := range data {
		for i := 0; i < k; i++ {
			out = append(out, d)
		}
	}
	return out
}

func save(fs afero.Fs, result []string, path string) error {
	return afero.WriteFile(fs, path, []byte(strings.Join(result, "\n")), 0644)
}

func newPipeline(t *testing.T, policy FailurePolicy) *pipeline {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in.txt", []byte("a\nb\n"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/script.go", []byte("package main"), 0644))

	s := NewSession(Config{
		SessionID:     "s1",
		FailurePolicy: policy,
		Identity:      identity.Config{FS: fsys},
	})

	p := &pipeline{fs: fsys, session: s}
	var err error
	p.load, err = s.Register(load, Spec{Inputs: NoInputs, FileInputs: []string{"path"}})
	require.NoError(t, err)
	p.transform, err = s.Register(transform, Spec{Inputs: []string{"data"}})
	require.NoError(t, err)
	p.save, err = s.Register(save, Spec{Inputs: []string{"result"}, FileOutputs: []string{"out_path"}})
	require.NoError(t, err)
	return p
}

func (p *pipeline) run(t *testing.T) {
	t.Helper()
	s := p.session
	data, err := Invoke(s, p.load, []Arg{A("path", "/in.txt")}, "data = load(path)", func() ([]string, error) {
		return load(p.fs, "/in.txt")
	})
	require.NoError(t, err)

	result, err := Invoke(s, p.transform, []Arg{A("data", data), A("k", 2)}, "result = transform(data, k=2)", func() ([]string, error) {
		return transform(data, 2), nil
	})
	require.NoError(t, err)

	err = Run(s, p.save, []Arg{A("result", result), A("out_path", "/out.txt")}, "save(result, out_path)", func() error {
		return save(p.fs, result, "/out.txt")
	})
	require.NoError(t, err)
}

func TestSession_ThreeCallScenario(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	require.NoError(t, p.session.Activate("/script.go"))
	p.run(t)
	require.NoError(t, p.session.Deactivate())

	log, err := p.session.Log()
	require.NoError(t, err)

	require.Len(t, log.Executions, 3)
	for i, e := range log.Executions {
		assert.Equal(t, i+1, e.Order)
		assert.Equal(t, core.OutcomeSuccess, e.Outcome)
	}
	load, transform, save := log.Executions[0], log.Executions[1], log.Executions[2]

	require.Len(t, load.Usages, 1)
	assert.Equal(t, core.KindFile, load.Usages[0].Entity.Kind)
	assert.Equal(t, "path", load.Usages[0].Role)
	require.Len(t, load.Generations, 1)
	data := load.Generations[0].Entity
	assert.Equal(t, core.KindDataObject, data.Kind)

	require.Len(t, transform.Usages, 1)
	assert.Equal(t, data, transform.Usages[0].Entity)
	assert.Equal(t, []core.NameValuePair{{Name: "k", Value: 2}}, transform.Parameters)
	require.Len(t, transform.Generations, 1)
	result := transform.Generations[0].Entity

	require.Len(t, save.Usages, 1)
	assert.Equal(t, result, save.Usages[0].Entity)
	require.Len(t, save.Generations, 1)
	assert.Equal(t, core.KindFile, save.Generations[0].Entity.Kind)
	assert.Equal(t, "out_path", save.Generations[0].Role)

	require.Len(t, log.Files, 2)
	assert.Equal(t, "/in.txt", log.Files[0].Path)
	assert.Equal(t, "/out.txt", log.Files[1].Path)
	assert.Len(t, log.DataObjects, 2)
	assert.Len(t, log.Functions, 3)

	assert.Equal(t, "/script.go", log.Agent.Path)
	assert.NotEmpty(t, log.Agent.Hash)
	assert.Equal(t, "s1", log.Agent.SessionID)
	assert.Equal(t, "result = transform(data, k=2)", transform.CodeStatement)
}

func TestSession_DerivedInput(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session
	require.NoError(t, s.Activate(""))

	data := []string{"a", "b"}
	first, err := Invoke(s, p.transform, []Arg{A("data", At(data, 0, data[0])), A("k", 1)}, "", func() ([]string, error) {
		return transform(data[:1], 1), nil
	})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)

	require.Len(t, log.DataObjects, 3)
	parent, child := log.DataObjects[0], log.DataObjects[1]
	assert.Equal(t, parent.ID, child.Parent)
	require.NotNil(t, child.Accessor)
	assert.Equal(t, core.AccessIndex, child.Accessor.Kind)
	assert.Equal(t, 0, child.Accessor.Index)
	assert.NotEqual(t, parent.Hash, child.Hash)

	var access []core.Derivation
	for _, d := range log.Derivations {
		if d.Accessor != nil {
			access = append(access, d)
		}
	}
	require.Len(t, access, 1)
	assert.Equal(t, child.ID, access[0].Child.ID)
	assert.Equal(t, parent.ID, access[0].Parent.ID)

	// The derived value carries no generation of its own.
	for _, e := range log.Executions {
		for _, g := range e.Generations {
			assert.NotEqual(t, child.ID, g.Entity.ID)
		}
	}
	assert.Contains(t, log.Executions[0].CodeStatement, "session_test.go:")
}

func TestSession_MutationBetweenCalls(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session
	require.NoError(t, s.Activate(""))

	box := identity.NewBox([]string{"a"})
	_, err := Invoke(s, p.transform, []Arg{A("data", box), A("k", 1)}, "", func() ([]string, error) {
		return transform(box.Get(), 1), nil
	})
	require.NoError(t, err)

	box.Update(func(v *[]string) { (*v)[0] = "z" })

	_, err = Invoke(s, p.transform, []Arg{A("data", box), A("k", 1)}, "", func() ([]string, error) {
		return transform(box.Get(), 1), nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	require.Len(t, log.Executions, 2)
	assert.NotEqual(t, log.Executions[0].Usages[0].Entity, log.Executions[1].Usages[0].Entity)
}

func TestSession_Nested(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session
	outer, err := s.Register(func(data []string) []string { return data }, Spec{Name: "outer", Inputs: []string{"data"}})
	require.NoError(t, err)
	require.NoError(t, s.Activate(""))

	data := []string{"x"}
	final, err := Invoke(s, outer, []Arg{A("data", data)}, "", func() ([]string, error) {
		inner, err := Invoke(s, p.transform, []Arg{A("data", data), A("k", 2)}, "", func() ([]string, error) {
			return transform(data, 2), nil
		})
		if err != nil {
			return nil, err
		}
		return append(inner, "y"), nil
	})
	require.NoError(t, err)
	require.Len(t, final, 3)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	require.Len(t, log.Executions, 2)

	out, in := log.Executions[0], log.Executions[1]
	assert.Equal(t, "outer", out.Function.Name)
	assert.Equal(t, 1, out.Order)
	assert.Equal(t, 2, in.Order)
	assert.Equal(t, 1, in.CallerOrder)
	assert.Equal(t, 0, out.CallerOrder)

	require.Len(t, in.Generations, 1)
	require.Len(t, out.Generations, 1)
	innerOut, outerOut := in.Generations[0].Entity, out.Generations[0].Entity

	var linked bool
	for _, d := range log.Derivations {
		if d.Child == outerOut && d.Parent == innerOut && d.Accessor == nil {
			linked = true
		}
	}
	assert.True(t, linked, "outer output must derive from the inner call's output")
	for _, u := range out.Usages {
		assert.NotEqual(t, innerOut, u.Entity, "outer call must not use the inner output directly")
	}
}

func TestSession_FailurePolicy(t *testing.T) {
	boom := errors.New("boom")

	t.Run("record", func(t *testing.T) {
		p := newPipeline(t, RecordFailed)
		s := p.session
		require.NoError(t, s.Activate(""))

		_, err := Invoke(s, p.transform, []Arg{A("data", []string{"a"})}, "", func() ([]string, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		p.run(t)
		require.NoError(t, s.Deactivate())

		log, err := s.Log()
		require.NoError(t, err)
		require.Len(t, log.Executions, 4)
		assert.Equal(t, core.OutcomeFailed, log.Executions[0].Outcome)
		assert.Equal(t, "boom", log.Executions[0].Error)
		assert.Empty(t, log.Executions[0].Generations)
		assert.Len(t, log.Executions[0].Usages, 1)
		assert.Equal(t, []int{1, 2, 3, 4}, orders(log))
	})

	t.Run("drop", func(t *testing.T) {
		p := newPipeline(t, DropFailed)
		s := p.session
		require.NoError(t, s.Activate(""))

		_, err := Invoke(s, p.transform, []Arg{A("data", []string{"q"})}, "", func() ([]string, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		p.run(t)
		require.NoError(t, s.Deactivate())

		log, err := s.Log()
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 4}, orders(log))
		assert.Len(t, log.DataObjects, 2, "entities only the dropped call used are left out")
	})

	t.Run("panic", func(t *testing.T) {
		p := newPipeline(t, RecordFailed)
		s := p.session
		require.NoError(t, s.Activate(""))

		assert.Panics(t, func() {
			_, _ = Invoke(s, p.transform, []Arg{A("data", []string{"a"})}, "", func() ([]string, error) {
				panic("kaput")
			})
		})
		assert.Equal(t, 0, s.State().(SessionState).Depth)
		p.run(t)
		require.NoError(t, s.Deactivate())

		log, err := s.Log()
		require.NoError(t, err)
		require.Len(t, log.Executions, 4)
		assert.Equal(t, "panic: kaput", log.Executions[0].Error)
	})
}

func TestSession_UnwindsAbandonedFrames(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session
	require.NoError(t, s.Activate(""))

	outer, err := s.EnterCall(p.transform, []Arg{A("data", []string{"o"})}, "outer")
	require.NoError(t, err)
	inner, err := s.EnterCall(p.transform, []Arg{A("data", []string{"i"})}, "inner")
	require.NoError(t, err)

	require.NoError(t, s.ExitCall(outer, []any{[]string{"r"}}, nil))
	assert.ErrorIs(t, s.ExitCall(inner, nil, nil), core.ErrUnbalancedExit)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	require.Len(t, log.Executions, 2)
	assert.Equal(t, core.OutcomeSuccess, log.Executions[0].Outcome)
	assert.Equal(t, core.OutcomeFailed, log.Executions[1].Outcome)
}

func TestSession_Lifecycle(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session

	t.Run("inactive calls are no-ops", func(t *testing.T) {
		ran := false
		_, err := Invoke(s, p.transform, []Arg{A("data", []string{"a"})}, "", func() ([]string, error) {
			ran = true
			return []string{"a"}, nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, 0, s.State().(SessionState).Executions)

		_, err = s.Log()
		assert.ErrorIs(t, err, core.ErrSessionInactive)
		assert.ErrorIs(t, s.Deactivate(), core.ErrSessionInactive)
	})

	t.Run("active log is not final", func(t *testing.T) {
		require.NoError(t, s.Activate(""))
		_, err := s.Log()
		assert.ErrorIs(t, err, core.ErrSessionActive)
	})

	t.Run("closed rejects appends", func(t *testing.T) {
		call, err := s.EnterCall(p.transform, nil, "")
		require.NoError(t, err)
		require.NoError(t, s.Deactivate())

		_, err = s.EnterCall(p.transform, nil, "")
		assert.ErrorIs(t, err, core.ErrSessionClosed)
		assert.ErrorIs(t, s.Activate(""), core.ErrSessionClosed)
		assert.ErrorIs(t, s.ExitCall(call, nil, nil), core.ErrSessionClosed)

		ran := false
		_, err = Invoke(s, p.transform, nil, "", func() (int, error) {
			ran = true
			return 1, nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		log, err := s.Log()
		require.NoError(t, err)
		require.Len(t, log.Executions, 1)
		assert.Equal(t, core.OutcomeFailed, log.Executions[0].Outcome)
	})

	t.Run("reset", func(t *testing.T) {
		s.Reset()
		assert.Equal(t, StateInactive, s.Status())
		require.NoError(t, s.Activate(""))
		call, err := s.EnterCall(p.transform, nil, "")
		require.NoError(t, err)
		assert.Equal(t, 1, call.Order())
	})
}

func TestRegister_Validation(t *testing.T) {
	s := NewSession(Config{})

	_, err := s.Register(transform, Spec{})
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, core.ErrCaptureConfig)
	assert.Contains(t, cfgErr.Function, "transform")

	_, err = s.Register(transform, Spec{Inputs: []string{"data"}, FileInputs: []string{"data"}})
	assert.ErrorIs(t, err, core.ErrCaptureConfig)

	_, err = s.Register("not a func", Spec{Inputs: NoInputs})
	assert.ErrorIs(t, err, core.ErrCaptureConfig)

	tr, err := s.Register(transform, Spec{Inputs: NoInputs})
	require.NoError(t, err)
	assert.Equal(t, "transform", tr.Function.Name)
}

func TestSession_ManyInputs(t *testing.T) {
	s := NewSession(Config{SessionID: "m"})
	concat, err := s.Register(func(parts ...string) string { return strings.Join(parts, "") }, Spec{Name: "concat", Inputs: []string{"parts"}})
	require.NoError(t, err)
	require.NoError(t, s.Activate(""))

	parts := []string{"a", "b", "c"}
	_, err = Invoke(s, concat, []Arg{A("parts", ManyOf(parts))}, "", func() (string, error) {
		return strings.Join(parts, ""), nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	require.Len(t, log.Executions[0].Usages, 3)
	assert.Equal(t, "parts[2]", log.Executions[0].Usages[2].Role)
	// One derivation per input, all into the joined output.
	assert.Len(t, log.Derivations, 3)
}

func TestSession_Acyclic(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session
	require.NoError(t, s.Activate(""))

	// identity-like functions return values that already exist.
	data := []string{"a"}
	for i := 0; i < 3; i++ {
		_, err := Invoke(s, p.transform, []Arg{A("data", data), A("k", 1)}, "", func() ([]string, error) {
			return transform(data, 1), nil
		})
		require.NoError(t, err)
	}
	p.run(t)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	assert.False(t, hasCycle(log))
}

func TestSession_RepeatedOutputs(t *testing.T) {
	p := newPipeline(t, RecordFailed)
	s := p.session
	require.NoError(t, afero.WriteFile(p.fs, "/a.txt", []byte("x\ny"), 0644))
	require.NoError(t, afero.WriteFile(p.fs, "/b.txt", []byte("x\ny"), 0644))
	require.NoError(t, s.Activate(""))

	var data []string
	for _, path := range []string{"/a.txt", "/b.txt"} {
		var err error
		data, err = Invoke(s, p.load, []Arg{A("path", path)}, "", func() ([]string, error) {
			return load(p.fs, path)
		})
		require.NoError(t, err)
	}
	err := Run(s, p.save, []Arg{A("result", data), A("out_path", "/c.txt")}, "", func() error {
		return save(p.fs, data, "/c.txt")
	})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	require.Len(t, log.Executions, 3)
	first, second, saved := log.Executions[0], log.Executions[1], log.Executions[2]

	require.Len(t, first.Generations, 1)
	require.Len(t, second.Generations, 1, "identical content is generated again")
	assert.Equal(t, first.Generations[0].Entity, second.Generations[0].Entity)

	require.Len(t, saved.Generations, 1)
	out := saved.Generations[0].Entity
	assert.Equal(t, core.KindFile, out.Kind)

	var paths []string
	for _, f := range log.Files {
		paths = append(paths, f.Path)
		if f.ID == out.ID {
			assert.Equal(t, "/c.txt", f.Path)
		}
	}
	assert.Equal(t, []string{"/a.txt", "/b.txt", "/c.txt"}, paths)
	assert.Equal(t, log.Files[0].Hash, log.Files[2].Hash)
	assert.False(t, hasCycle(log))
}

func TestSession_RoundTripOutputIsNotGenerated(t *testing.T) {
	s := NewSession(Config{SessionID: "rt"})
	encode, err := s.Register(func(xs []int) string { return fmt.Sprint(xs) }, Spec{Name: "encode", Inputs: []string{"xs"}})
	require.NoError(t, err)
	decode, err := s.Register(func(text string) []int { return nil }, Spec{Name: "decode", Inputs: []string{"text"}})
	require.NoError(t, err)
	require.NoError(t, s.Activate(""))

	xs := []int{1, 2}
	text, err := Invoke(s, encode, []Arg{A("xs", xs)}, "", func() (string, error) { return fmt.Sprint(xs), nil })
	require.NoError(t, err)
	back, err := Invoke(s, decode, []Arg{A("text", text)}, "", func() ([]int, error) { return []int{1, 2}, nil })
	require.NoError(t, err)
	require.Equal(t, xs, back)
	require.NoError(t, s.Deactivate())

	log, err := s.Log()
	require.NoError(t, err)
	require.Len(t, log.Executions, 2)
	assert.Len(t, log.Executions[0].Generations, 1)
	assert.Empty(t, log.Executions[1].Generations, "decode hands back a value encode already used")
	assert.False(t, hasCycle(log))
}

func orders(log core.Log) []int {
	out := make([]int, 0, len(log.Executions))
	for _, e := range log.Executions {
		out = append(out, e.Order)
	}
	return out
}

// hasCycle checks the entity -> execution -> entity graph for cycles.
func hasCycle(log core.Log) bool {
	next := make(map[string][]string)
	for _, e := range log.Executions {
		for _, u := range e.Usages {
			next[u.Entity.ID] = append(next[u.Entity.ID], e.ID)
		}
		for _, g := range e.Generations {
			next[e.ID] = append(next[e.ID], g.Entity.ID)
		}
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = grey
		for _, m := range next[n] {
			switch color[m] {
			case grey:
				return true
			case white:
				if visit(m) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range next {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}
