// Package aggregate summarizes a provenance graph by partition refinement.
//
// Nodes start in groups keyed by their type and a caller-selected set of
// attributes. Each round then splits every group whose members see different
// multisets of (direction, edge role, neighbor group) until no group splits.
// The result is the coarsest partition that is stable under both attributes
// and structure; each group becomes one node of the summary.
//
// Signatures of a round are computed in parallel from the frozen partition of
// the previous round; the next partition is decided by a single sequential
// pass, so the output never depends on scheduling.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/trail/pkg/graph"
)

var tracer = otel.Tracer("trail.aggregate")

// Undefined is the key value of a selected attribute a node does not have.
const Undefined = "undefined"

// Options selects what makes two nodes equivalent.
type Options struct {
	// Attributes are compared on every node.
	Attributes []string `yaml:"attributes" toml:"attributes" validate:"dive,required"`
	// ByLabel adds attributes for nodes with the given label, that is the
	// function name of an execution or the value type of a data object.
	ByLabel map[string][]string `yaml:"by_label" toml:"by_label" validate:"dive,keys,required,endkeys,dive,required"`
	// UseParameters adds every function parameter of an execution.
	UseParameters bool `yaml:"use_parameters" toml:"use_parameters"`
	// UseLabel adds the node label.
	UseLabel bool `yaml:"use_label" toml:"use_label"`
	// Exclude drops nodes of these types, with their edges, before aggregating.
	Exclude []string `yaml:"exclude" toml:"exclude" validate:"dive,required"`
	// Workers bounds the goroutines computing signatures. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" toml:"workers" validate:"gte=0"`

	Logger *slog.Logger `yaml:"-" toml:"-" validate:"-"`
}

// Group is one equivalence class of the final partition.
type Group struct {
	ID    string
	Type  string
	Label string
	// Key holds the selected attributes the members agree on, Undefined
	// standing for a missing one.
	Key map[string]string
	// Shared holds every other attribute all members have with the same value.
	Shared map[string]string
	// Members are the original node IDs in graph order.
	Members []string
	// Count is the number of original nodes, summing the counts of members
	// that are themselves summaries.
	Count int
}

// Attrs returns Shared overlaid with Key.
func (g Group) Attrs() map[string]string {
	out := make(map[string]string, len(g.Key)+len(g.Shared))
	for k, v := range g.Shared {
		out[k] = v
	}
	for k, v := range g.Key {
		out[k] = v
	}
	return out
}

// SuperEdge stands for every edge with one role between two groups.
type SuperEdge struct {
	Source string
	Target string
	Role   graph.Role
	Weight int
}

// Summary is the result of Aggregate.
type Summary struct {
	Groups []Group
	Edges  []SuperEdge
	// Rounds is the number of refinement rounds that split a group.
	Rounds int

	groupOf map[string]string
}

// GroupOf returns the ID of the group holding the node with the given ID.
func (s *Summary) GroupOf(nodeID string) (string, bool) {
	id, ok := s.groupOf[nodeID]
	return id, ok
}

// Graph returns the summary as a graph: one node per group, with the group
// attributes and member count, and one edge per super-edge. Aggregating it
// again with the same options yields the same groups.
func (s *Summary) Graph() *graph.Graph {
	g := graph.New()
	for _, grp := range s.Groups {
		g.AddNode(graph.Node{ID: grp.ID, Type: grp.Type, Label: grp.Label, Attrs: grp.Attrs(), Count: grp.Count})
	}
	for _, e := range s.Edges {
		// Endpoints are groups of this summary.
		_ = g.AddEdge(graph.Edge{Source: e.Source, Target: e.Target, Role: e.Role, Weight: e.Weight})
	}
	return g
}

// Aggregate computes the summary of g. g is only read.
func Aggregate(ctx context.Context, g *graph.Graph, opts Options) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "aggregate.Aggregate",
		trace.WithAttributes(
			attribute.Int("graph.nodes", g.NodeCount()),
			attribute.Int("graph.edges", g.EdgeCount()),
			attribute.StringSlice("aggregate.attributes", opts.Attributes),
		),
	)
	defer span.End()

	s, err := aggregate(ctx, g, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("aggregate.groups", len(s.Groups)),
		attribute.Int("aggregate.super_edges", len(s.Edges)),
		attribute.Int("aggregate.rounds", s.Rounds),
	)
	span.SetStatus(codes.Ok, "")
	return s, nil
}

func aggregate(ctx context.Context, g *graph.Graph, opts Options) (*Summary, error) {
	p := newProblem(g, opts)
	initial, keys := p.initial()
	part := initial

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rounds := 0
	groups := len(keys)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sigs, err := p.signatures(ctx, part, workers)
		if err != nil {
			return nil, err
		}
		next, count := refine(part, sigs)
		if count == groups {
			break
		}
		rounds++
		if opts.Logger != nil {
			opts.Logger.Debug("aggregation round", "round", rounds, "groups", count, "previous", groups)
		}
		part, groups = next, count
	}

	s := p.summary(part, groups, initial, keys)
	s.Rounds = rounds
	if opts.Logger != nil {
		opts.Logger.Debug("aggregation done", "nodes", len(p.nodes), "groups", len(s.Groups), "rounds", rounds)
	}
	return s, nil
}

// incidence is one edge seen from one of its endpoints.
type incidence struct {
	out      bool
	role     graph.Role
	neighbor int
	weight   int
}

type problem struct {
	opts  Options
	nodes []*graph.Node
	index map[string]int
	edges []graph.Edge
	adj   [][]incidence
}

func newProblem(g *graph.Graph, opts Options) *problem {
	p := &problem{opts: opts, index: make(map[string]int)}
	for _, n := range g.Nodes() {
		if slices.Contains(opts.Exclude, n.Type) {
			continue
		}
		p.index[n.ID] = len(p.nodes)
		p.nodes = append(p.nodes, n)
	}
	p.adj = make([][]incidence, len(p.nodes))
	for _, e := range g.Edges() {
		src, ok := p.index[e.Source]
		if !ok {
			continue
		}
		tgt, ok := p.index[e.Target]
		if !ok {
			continue
		}
		p.edges = append(p.edges, e)
		w := e.Multiplicity()
		p.adj[src] = append(p.adj[src], incidence{out: true, role: e.Role, neighbor: tgt, weight: w})
		p.adj[tgt] = append(p.adj[tgt], incidence{out: false, role: e.Role, neighbor: src, weight: w})
	}
	return p
}

// selected returns the sorted attribute names compared on n.
func (p *problem) selected(n *graph.Node) []string {
	names := append([]string(nil), p.opts.Attributes...)
	names = append(names, p.opts.ByLabel[n.Label]...)
	if p.opts.UseParameters && n.Type == graph.TypeExecution {
		names = append(names, n.Parameters()...)
	}
	sort.Strings(names)
	return slices.Compact(names)
}

// key is the initial partition key of a node.
type key struct {
	typ    string
	label  string
	values map[string]string
	str    string
}

func (p *problem) keyOf(n *graph.Node) key {
	k := key{typ: n.Type, values: make(map[string]string)}
	var b strings.Builder
	b.WriteString(n.Type)
	if p.opts.UseLabel {
		k.label = n.Label
		b.WriteString("\x1f")
		b.WriteString(n.Label)
	}
	for _, name := range p.selected(n) {
		v, ok := n.Attr(name)
		if !ok {
			v = Undefined
		}
		k.values[name] = v
		fmt.Fprintf(&b, "\x1f%s=%s", name, v)
	}
	k.str = b.String()
	return k
}

// initial assigns group numbers by key in first-seen order.
func (p *problem) initial() ([]int, []key) {
	part := make([]int, len(p.nodes))
	byKey := make(map[string]int)
	var keys []key
	for i, n := range p.nodes {
		k := p.keyOf(n)
		id, ok := byKey[k.str]
		if !ok {
			id = len(keys)
			byKey[k.str] = id
			keys = append(keys, k)
		}
		part[i] = id
	}
	return part, keys
}

func (p *problem) signatures(ctx context.Context, part []int, workers int) ([]string, error) {
	sigs := make([]string, len(p.nodes))
	if len(p.nodes) == 0 {
		return sigs, nil
	}
	chunk := (len(p.nodes) + workers - 1) / workers

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for start := 0; start < len(p.nodes); start += chunk {
		end := min(start+chunk, len(p.nodes))
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				sigs[i] = p.signature(i, part)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return sigs, nil
}

// signature renders the multiset of (direction, role, neighbor group) seen
// from node i. Edge weights are divided by the node's own count, so a summary
// node has the signature of each of its members.
func (p *problem) signature(i int, part []int) string {
	type slot struct {
		out   bool
		role  graph.Role
		group int
	}
	counts := make(map[slot]int)
	for _, inc := range p.adj[i] {
		counts[slot{out: inc.out, role: inc.role, group: part[inc.neighbor]}] += inc.weight
	}

	entries := make([]string, 0, len(counts))
	self := p.nodes[i].Weight()
	for s, c := range counts {
		dir := "<"
		if s.out {
			dir = ">"
		}
		entries = append(entries, dir+string(s.role)+"#"+strconv.Itoa(s.group)+"="+ratio(c, self))
	}
	sort.Strings(entries)
	return strings.Join(entries, ";")
}

func ratio(n, d int) string {
	g := gcd(n, d)
	n, d = n/g, d/g
	if d == 1 {
		return strconv.Itoa(n)
	}
	return strconv.Itoa(n) + "/" + strconv.Itoa(d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// refine splits groups by signature. Groups are numbered in first-seen
// order, so the result is independent of how signatures were computed.
func refine(part []int, sigs []string) ([]int, int) {
	type cell struct {
		group int
		sig   string
	}
	next := make([]int, len(part))
	ids := make(map[cell]int)
	for i := range part {
		c := cell{group: part[i], sig: sigs[i]}
		id, ok := ids[c]
		if !ok {
			id = len(ids)
			ids[c] = id
		}
		next[i] = id
	}
	return next, len(ids)
}

func (p *problem) summary(part []int, count int, initial []int, keys []key) *Summary {
	type building struct {
		key     key
		members []int
		first   int
	}
	blocks := make([]*building, count)
	for i, g := range part {
		if blocks[g] == nil {
			blocks[g] = &building{first: i, key: keys[initial[i]]}
		}
		blocks[g].members = append(blocks[g].members, i)
	}

	order := make([]int, count)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := blocks[order[a]], blocks[order[b]]
		if x.key.typ != y.key.typ {
			return x.key.typ < y.key.typ
		}
		if x.key.label != y.key.label {
			return x.key.label < y.key.label
		}
		if x.key.str != y.key.str {
			return x.key.str < y.key.str
		}
		return x.first < y.first
	})

	s := &Summary{groupOf: make(map[string]string, len(p.nodes))}
	groupID := make([]string, count)
	rank := make([]int, count)
	for r, g := range order {
		b := blocks[g]
		id := "group:" + strconv.Itoa(r)
		groupID[g] = id
		rank[g] = r

		grp := Group{
			ID:    id,
			Type:  b.key.typ,
			Label: p.nodes[b.first].Label,
			Key:   b.key.values,
		}
		for _, m := range b.members {
			n := p.nodes[m]
			grp.Members = append(grp.Members, n.ID)
			grp.Count += n.Weight()
			s.groupOf[n.ID] = id
		}
		grp.Shared = p.shared(b.members, grp.Key)
		if !p.opts.UseLabel && !p.sameLabel(b.members) {
			grp.Label = b.key.typ
		}
		s.Groups = append(s.Groups, grp)
	}

	type edgeKey struct {
		role     graph.Role
		src, tgt int
	}
	weights := make(map[edgeKey]int)
	var keysSeen []edgeKey
	for _, e := range p.edges {
		k := edgeKey{role: e.Role, src: part[p.index[e.Source]], tgt: part[p.index[e.Target]]}
		if _, ok := weights[k]; !ok {
			keysSeen = append(keysSeen, k)
		}
		weights[k] += e.Multiplicity()
	}
	sort.Slice(keysSeen, func(a, b int) bool {
		x, y := keysSeen[a], keysSeen[b]
		if x.role != y.role {
			return x.role < y.role
		}
		if rank[x.src] != rank[y.src] {
			return rank[x.src] < rank[y.src]
		}
		return rank[x.tgt] < rank[y.tgt]
	})
	for _, k := range keysSeen {
		s.Edges = append(s.Edges, SuperEdge{
			Source: groupID[k.src],
			Target: groupID[k.tgt],
			Role:   k.role,
			Weight: weights[k],
		})
	}
	return s
}

// shared returns the attributes outside key that every member carries with
// the same value.
func (p *problem) shared(members []int, key map[string]string) map[string]string {
	out := make(map[string]string)
	first := p.nodes[members[0]]
	skip := make(map[string]bool, len(key))
	for name := range key {
		skip[name] = true
		if k, ok := first.AttrKey(name); ok {
			skip[k] = true
		}
	}
	for name, v := range first.Attrs {
		if !skip[name] {
			out[name] = v
		}
	}
	for _, m := range members[1:] {
		attrs := p.nodes[m].Attrs
		for name, v := range out {
			if attrs[name] != v {
				delete(out, name)
			}
		}
	}
	return out
}

func (p *problem) sameLabel(members []int) bool {
	label := p.nodes[members[0]].Label
	for _, m := range members[1:] {
		if p.nodes[m].Label != label {
			return false
		}
	}
	return true
}
