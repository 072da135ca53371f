package aggregate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trail/pkg/graph"
)

type builder struct {
	t *testing.T
	g *graph.Graph
}

func newBuilder(t *testing.T) *builder {
	return &builder{t: t, g: graph.New()}
}

func (b *builder) node(id, typ, label string, attrs ...string) {
	m := make(map[string]string)
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i]] = attrs[i+1]
	}
	require.True(b.t, b.g.AddNode(graph.Node{ID: id, Type: typ, Label: label, Attrs: m}))
}

func (b *builder) edge(src, tgt string, role graph.Role) {
	require.NoError(b.t, b.g.AddEdge(graph.Edge{Source: src, Target: tgt, Role: role}))
}

// chains builds one file -> load -> data -> transform(k) -> result chain per k.
func chains(t *testing.T, ks ...string) *graph.Graph {
	b := newBuilder(t)
	for i, k := range ks {
		n := fmt.Sprint(i + 1)
		b.node("f"+n, graph.TypeFile, "File", graph.AttrFilePath, "in"+n+".csv")
		b.node("load"+n, graph.TypeExecution, "load")
		b.node("d"+n, graph.TypeDataObject, "[]string", graph.AttrValueType, "[]string")
		b.node("tr"+n, graph.TypeExecution, "transform", graph.ParamPrefix+"k", k)
		b.node("r"+n, graph.TypeDataObject, "[]string", graph.AttrValueType, "[]string")

		b.edge("f"+n, "load"+n, graph.RoleUses)
		b.edge("load"+n, "d"+n, graph.RoleGenerates)
		b.edge("d"+n, "f"+n, graph.RoleDerivesFrom)
		b.edge("d"+n, "tr"+n, graph.RoleUses)
		b.edge("tr"+n, "r"+n, graph.RoleGenerates)
		b.edge("r"+n, "d"+n, graph.RoleDerivesFrom)
	}
	return b.g
}

func groupsOfType(s *Summary, typ string) []Group {
	var out []Group
	for _, g := range s.Groups {
		if g.Type == typ {
			out = append(out, g)
		}
	}
	return out
}

func TestAggregate_ByType(t *testing.T) {
	g := chains(t, "2", "2")
	s, err := Aggregate(context.Background(), g, Options{})
	require.NoError(t, err)

	require.Len(t, s.Groups, 5)
	for _, grp := range s.Groups {
		assert.Equal(t, 2, grp.Count, grp.ID)
		assert.Len(t, grp.Members, 2)
	}
	assert.Len(t, s.Edges, 6)
	for _, e := range s.Edges {
		assert.Equal(t, 2, e.Weight)
	}

	// Groups are ordered by type, then key, then first appearance.
	var types []string
	for _, grp := range s.Groups {
		types = append(types, grp.Type)
	}
	assert.Equal(t, []string{
		graph.TypeDataObject, graph.TypeDataObject,
		graph.TypeFile,
		graph.TypeExecution, graph.TypeExecution,
	}, types)

	execs := groupsOfType(s, graph.TypeExecution)
	assert.Equal(t, "load", execs[0].Label)
	assert.Equal(t, "transform", execs[1].Label)
	assert.Equal(t, "2", execs[1].Shared[graph.ParamPrefix+"k"])

	load1, ok := s.GroupOf("load1")
	require.True(t, ok)
	load2, _ := s.GroupOf("load2")
	assert.Equal(t, load1, load2)
	assert.Equal(t, 1, s.Rounds)
}

func TestAggregate_AttributeSplitsStructure(t *testing.T) {
	g := chains(t, "2", "2")
	s, err := Aggregate(context.Background(), g, Options{Attributes: []string{graph.AttrFilePath}})
	require.NoError(t, err)

	// The two files differ, so every node downstream of them does too.
	assert.Len(t, s.Groups, 10)
	for _, grp := range groupsOfType(s, graph.TypeExecution) {
		assert.Equal(t, Undefined, grp.Key[graph.AttrFilePath])
	}
	files := groupsOfType(s, graph.TypeFile)
	require.Len(t, files, 2)
	assert.Equal(t, "in1.csv", files[0].Key[graph.AttrFilePath])
	assert.Equal(t, "in2.csv", files[1].Key[graph.AttrFilePath])
}

func TestAggregate_UseParameters(t *testing.T) {
	g := chains(t, "2", "3")

	s, err := Aggregate(context.Background(), g, Options{})
	require.NoError(t, err)
	assert.Len(t, s.Groups, 5)

	s, err = Aggregate(context.Background(), g, Options{UseParameters: true})
	require.NoError(t, err)
	assert.Len(t, s.Groups, 10)
}

func TestAggregate_ByLabel(t *testing.T) {
	g := chains(t, "2", "3")
	s, err := Aggregate(context.Background(), g, Options{
		ByLabel: map[string][]string{"transform": {graph.ParamPrefix + "k"}},
	})
	require.NoError(t, err)
	assert.Len(t, s.Groups, 10)
}

func TestAggregate_UseLabel(t *testing.T) {
	b := newBuilder(t)
	b.node("a", graph.TypeExecution, "a")
	b.node("b", graph.TypeExecution, "b")
	b.node("x", graph.TypeDataObject, "int")
	b.node("y", graph.TypeDataObject, "int")
	b.edge("a", "x", graph.RoleGenerates)
	b.edge("b", "y", graph.RoleGenerates)

	s, err := Aggregate(context.Background(), b.g, Options{})
	require.NoError(t, err)
	execs := groupsOfType(s, graph.TypeExecution)
	require.Len(t, execs, 1)
	assert.Equal(t, graph.TypeExecution, execs[0].Label)

	s, err = Aggregate(context.Background(), b.g, Options{UseLabel: true})
	require.NoError(t, err)
	execs = groupsOfType(s, graph.TypeExecution)
	require.Len(t, execs, 2)
	assert.Equal(t, "a", execs[0].Label)
	assert.Equal(t, "b", execs[1].Label)
	assert.Len(t, groupsOfType(s, graph.TypeDataObject), 2)
}

func TestAggregate_Exclude(t *testing.T) {
	g := chains(t, "2", "2")
	s, err := Aggregate(context.Background(), g, Options{Exclude: []string{graph.TypeFile}})
	require.NoError(t, err)

	assert.Empty(t, groupsOfType(s, graph.TypeFile))
	assert.Len(t, s.Edges, 4)
	_, ok := s.GroupOf("f1")
	assert.False(t, ok)
}

func TestAggregate_Deterministic(t *testing.T) {
	g := chains(t, "2", "3", "2", "4", "3")
	opts := Options{Attributes: []string{graph.AttrValueType}, UseParameters: true}

	first, err := Aggregate(context.Background(), g, Options{Attributes: opts.Attributes, UseParameters: true, Workers: 1})
	require.NoError(t, err)
	for _, workers := range []int{0, 2, 7} {
		opts.Workers = workers
		again, err := Aggregate(context.Background(), g, opts)
		require.NoError(t, err)
		assert.Equal(t, first.Groups, again.Groups)
		assert.Equal(t, first.Edges, again.Edges)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	b := newBuilder(t)
	// A fan-out: one load feeding several transforms, some of them twice.
	b.node("f", graph.TypeFile, "File", graph.AttrFilePath, "in.csv")
	b.node("load", graph.TypeExecution, "load")
	b.node("d", graph.TypeDataObject, "[]string")
	b.edge("f", "load", graph.RoleUses)
	b.edge("load", "d", graph.RoleGenerates)
	for i := 0; i < 6; i++ {
		tr := fmt.Sprintf("tr%d", i)
		r := fmt.Sprintf("r%d", i)
		b.node(tr, graph.TypeExecution, "transform", graph.ParamPrefix+"k", fmt.Sprint(i%2))
		b.node(r, graph.TypeDataObject, "[]string")
		b.edge("d", tr, graph.RoleUses)
		b.edge(tr, r, graph.RoleGenerates)
		b.edge(r, "d", graph.RoleDerivesFrom)
		if i%3 == 0 {
			b.edge(r, tr, graph.RoleUses)
		}
	}

	for _, opts := range []Options{
		{},
		{UseParameters: true},
		{Attributes: []string{graph.AttrFilePath}, UseLabel: true},
	} {
		s, err := Aggregate(context.Background(), b.g, opts)
		require.NoError(t, err)

		again, err := Aggregate(context.Background(), s.Graph(), opts)
		require.NoError(t, err)
		require.Len(t, again.Groups, len(s.Groups))
		for i, grp := range again.Groups {
			assert.Len(t, grp.Members, 1)
			assert.Equal(t, s.Groups[i].Count, grp.Count)
			assert.Equal(t, s.Groups[i].Type, grp.Type)
		}
		require.Len(t, again.Edges, len(s.Edges))
		for i, e := range again.Edges {
			assert.Equal(t, s.Edges[i].Weight, e.Weight)
			assert.Equal(t, s.Edges[i].Role, e.Role)
		}
	}
}

func TestAggregate_ThreeCallScenario(t *testing.T) {
	b := newBuilder(t)
	b.node("in", graph.TypeFile, "File", graph.AttrFilePath, "in.txt")
	b.node("e1", graph.TypeExecution, "load")
	b.node("data", graph.TypeDataObject, "[]string")
	b.node("e2", graph.TypeExecution, "transform", graph.ParamPrefix+"k", "2")
	b.node("result", graph.TypeDataObject, "[]string")
	b.node("e3", graph.TypeExecution, "save")
	b.node("out", graph.TypeFile, "File", graph.AttrFilePath, "out.txt")
	b.edge("in", "e1", graph.RoleUses)
	b.edge("e1", "data", graph.RoleGenerates)
	b.edge("data", "e2", graph.RoleUses)
	b.edge("e2", "result", graph.RoleGenerates)
	b.edge("result", "e3", graph.RoleUses)
	b.edge("e3", "out", graph.RoleGenerates)

	s, err := Aggregate(context.Background(), b.g, Options{})
	require.NoError(t, err)

	// Every call plays a different part, so no two nodes are equivalent.
	assert.Len(t, groupsOfType(s, graph.TypeExecution), 3)
	assert.Len(t, groupsOfType(s, graph.TypeDataObject), 2)
	assert.Len(t, groupsOfType(s, graph.TypeFile), 2)
	assert.Len(t, s.Edges, 6)
}

func TestAggregate_SummaryGraph(t *testing.T) {
	s, err := Aggregate(context.Background(), chains(t, "2", "2"), Options{})
	require.NoError(t, err)

	sg := s.Graph()
	assert.Equal(t, len(s.Groups), sg.NodeCount())
	assert.Equal(t, len(s.Edges), sg.EdgeCount())
	n, ok := sg.GetNode(s.Groups[0].ID)
	require.True(t, ok)
	assert.Equal(t, 2, n.Count)
	assert.Equal(t, "[]string", n.Attrs[graph.AttrValueType])
}

func TestAggregate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Aggregate(ctx, chains(t, "1"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseProfile(t *testing.T) {
	opts, err := ParseProfile(strings.NewReader(`
attributes: [value_type]
by_label:
  transform: [shape]
use_parameters: true
exclude: [FileEntity]
workers: 2
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"value_type"}, opts.Attributes)
	assert.Equal(t, []string{"shape"}, opts.ByLabel["transform"])
	assert.True(t, opts.UseParameters)
	assert.False(t, opts.UseLabel)
	assert.Equal(t, []string{"FileEntity"}, opts.Exclude)
	assert.Equal(t, 2, opts.Workers)

	_, err = ParseProfile(strings.NewReader("atributes: [x]\n"))
	assert.Error(t, err)

	_, err = ParseProfile(strings.NewReader("workers: -1\n"))
	assert.Error(t, err)
	_, err = ParseProfile(strings.NewReader("attributes: [\"\"]\n"))
	assert.Error(t, err)
	_, err = ParseProfile(strings.NewReader("by_label:\n  transform: [\"\"]\n"))
	assert.Error(t, err)

	opts, err = ParseProfile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, opts.Attributes)
}

func TestParseTOMLProfile(t *testing.T) {
	opts, err := ParseTOMLProfile(strings.NewReader(`
attributes = ["value_type"]
use_parameters = true
workers = 4

[by_label]
transform = ["shape"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"value_type"}, opts.Attributes)
	assert.Equal(t, []string{"shape"}, opts.ByLabel["transform"])
	assert.True(t, opts.UseParameters)
	assert.Equal(t, 4, opts.Workers)

	_, err = ParseTOMLProfile(strings.NewReader("atributes = [\"x\"]\n"))
	assert.Error(t, err)
	_, err = ParseTOMLProfile(strings.NewReader("workers = -2\n"))
	assert.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/p.yaml", []byte("use_label: true\n"), 0644))

	opts, err := LoadProfile(fsys, "/p.yaml")
	require.NoError(t, err)
	assert.True(t, opts.UseLabel)

	require.NoError(t, afero.WriteFile(fsys, "/p.toml", []byte("exclude = [\"FileEntity\"]\n"), 0644))
	opts, err = LoadProfile(fsys, "/p.toml")
	require.NoError(t, err)
	assert.Equal(t, []string{"FileEntity"}, opts.Exclude)

	_, err = LoadProfile(fsys, "/missing.yaml")
	assert.Error(t, err)
}
