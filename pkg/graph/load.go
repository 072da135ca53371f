package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/trail/pkg/core"
	"github.com/aretw0/trail/pkg/prov"
)

var tracer = otel.Tracer("trail.graph")

// Options controls how documents become a graph.
type Options struct {
	// Full adds Function, ScriptAgent and NameValuePair nodes. Without it
	// parameters, attributes and annotations live only in node attributes.
	Full bool
	// RemoveNone drops data objects holding nil.
	RemoveNone bool
	// CondenseMemberships collapses chains of container members, see CondenseMemberships.
	CondenseMemberships bool
	// Preserve lists value types that CondenseMemberships keeps.
	Preserve []string
	Logger   *slog.Logger
}

// Source is a document together with the file it was read from.
type Source struct {
	File string
	Doc  *prov.Document
}

// FromDocument builds the graph of a single document.
func FromDocument(doc *prov.Document, opts Options) (*Graph, error) {
	return Load(context.Background(), []Source{{Doc: doc}}, opts)
}

// Load merges sources into one graph. Records with the same identifier in
// several sources become one node.
//
// Loading fails with a *core.LoadError naming the file and identifier when a
// record refers to an identifier no source defines, or when one identifier is
// both a DataObjectEntity and a FileEntity.
func Load(ctx context.Context, sources []Source, opts Options) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "graph.Load",
		trace.WithAttributes(attribute.Int("graph.documents", len(sources))),
	)
	defer span.End()

	g, err := load(ctx, sources, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("graph.nodes", g.NodeCount()),
		attribute.Int("graph.edges", g.EdgeCount()),
	)
	span.SetStatus(codes.Ok, "")
	if opts.Logger != nil {
		opts.Logger.Debug("graph loaded", "documents", len(sources), "nodes", g.NodeCount(), "edges", g.EdgeCount())
	}
	return g, nil
}

func load(ctx context.Context, sources []Source, opts Options) (*Graph, error) {
	defs := &definitions{kinds: make(map[string]recordKind)}
	for _, src := range sources {
		if src.Doc == nil {
			return nil, fmt.Errorf("%w: %s: no document", core.ErrGraphLoad, src.File)
		}
		if err := defs.collect(src); err != nil {
			return nil, err
		}
	}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := defs.check(src); err != nil {
			return nil, err
		}
	}

	b := &builder{
		g:        New(),
		opts:     opts,
		related:  make(map[prov.Relation]struct{}),
		executed: make(map[string]struct{}),
	}
	for _, src := range sources {
		b.addNodes(src.Doc)
	}
	for _, src := range sources {
		if err := b.addEdges(src.Doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrGraphLoad, src.File, err)
		}
	}

	g := b.g
	if opts.RemoveNone {
		g = RemoveNone(g)
	}
	if opts.CondenseMemberships {
		g = CondenseMemberships(g, opts.Preserve...)
	}
	return g, nil
}

type recordKind int

const (
	kindAgent recordKind = iota + 1
	kindFunction
	kindExecution
	kindDataObject
	kindFile
)

func (k recordKind) String() string {
	switch k {
	case kindAgent:
		return TypeAgent
	case kindFunction:
		return TypeFunction
	case kindExecution:
		return TypeExecution
	case kindDataObject:
		return TypeDataObject
	case kindFile:
		return TypeFile
	default:
		return "unknown"
	}
}

func isEntity(k recordKind) bool { return k == kindDataObject || k == kindFile }

type definitions struct {
	kinds map[string]recordKind
}

func (d *definitions) define(file, id string, k recordKind) error {
	if id == "" {
		return fmt.Errorf("%w: %s record without identifier (in %s)", core.ErrGraphLoad, k, file)
	}
	prev, ok := d.kinds[id]
	if ok && prev != k {
		if isEntity(prev) && isEntity(k) {
			return &core.LoadError{File: file, ID: id, Kind: core.ErrDisjointEntities}
		}
		return fmt.Errorf("%w: %s is both %s and %s (in %s)", core.ErrGraphLoad, id, prev, k, file)
	}
	d.kinds[id] = k
	return nil
}

func (d *definitions) collect(src Source) error {
	doc := src.Doc
	if err := prov.CheckFormat(doc.Format); err != nil {
		return fmt.Errorf("%w: %v (in %s)", core.ErrGraphLoad, err, src.File)
	}
	if err := d.define(src.File, doc.Agent.ID, kindAgent); err != nil {
		return err
	}
	for _, f := range doc.Functions {
		if err := d.define(src.File, f.ID, kindFunction); err != nil {
			return err
		}
	}
	for _, e := range doc.Executions {
		if err := d.define(src.File, e.ID, kindExecution); err != nil {
			return err
		}
	}
	for _, e := range doc.Entities {
		var k recordKind
		switch e.Type {
		case prov.ClassDataObjectEntity:
			k = kindDataObject
		case prov.ClassFileEntity:
			k = kindFile
		default:
			return fmt.Errorf("%w: %s has unknown type %q (in %s)", core.ErrGraphLoad, e.ID, e.Type, src.File)
		}
		if err := d.define(src.File, e.ID, k); err != nil {
			return err
		}
	}
	return nil
}

// require fails unless id is defined as one of the wanted kinds.
func (d *definitions) require(file, id string, want ...recordKind) error {
	k, ok := d.kinds[id]
	if ok {
		for _, w := range want {
			if k == w {
				return nil
			}
		}
	}
	return &core.LoadError{File: file, ID: id, Kind: core.ErrUndefinedReference}
}

func (d *definitions) check(src Source) error {
	doc := src.Doc
	for _, e := range doc.Executions {
		if err := d.require(src.File, e.UsedFunction, kindFunction); err != nil {
			return err
		}
		if e.WasAssociatedWith != "" {
			if err := d.require(src.File, e.WasAssociatedWith, kindAgent); err != nil {
				return err
			}
		}
		for _, u := range e.Used {
			if err := d.require(src.File, u.Entity, kindDataObject, kindFile); err != nil {
				return err
			}
		}
		for _, u := range e.Generated {
			if err := d.require(src.File, u.Entity, kindDataObject, kindFile); err != nil {
				return err
			}
		}
	}
	for _, e := range doc.Entities {
		if e.Container != "" {
			if err := d.require(src.File, e.Container, kindDataObject); err != nil {
				return err
			}
		}
	}
	for _, r := range doc.Relations {
		var want []recordKind
		switch r.Type {
		case prov.RelationDerivedFrom:
			want = []recordKind{kindDataObject, kindFile}
		case prov.RelationInformedBy:
			want = []recordKind{kindExecution}
		default:
			return fmt.Errorf("%w: unknown relation %q (in %s)", core.ErrGraphLoad, r.Type, src.File)
		}
		if err := d.require(src.File, r.Subject, want...); err != nil {
			return err
		}
		if err := d.require(src.File, r.Object, want...); err != nil {
			return err
		}
	}
	return nil
}

type builder struct {
	g    *Graph
	opts Options
	// related and executed keep a record repeated across sources from
	// producing parallel edges.
	related  map[prov.Relation]struct{}
	executed map[string]struct{}
	pending  []Edge
}

func (b *builder) addNodes(doc *prov.Document) {
	functions := make(map[string]prov.FunctionRecord, len(doc.Functions))
	for _, f := range doc.Functions {
		functions[f.ID] = f
	}

	if b.opts.Full {
		b.g.AddNode(Node{
			ID:    doc.Agent.ID,
			Type:  TypeAgent,
			Label: path.Base(doc.Agent.ScriptPath),
			Attrs: compact(map[string]string{
				AttrScriptPath: doc.Agent.ScriptPath,
				AttrHash:       doc.Agent.ScriptHash,
				AttrVersion:    doc.Agent.Version,
				AttrSession:    doc.Session,
			}),
		})
		for _, f := range doc.Functions {
			b.g.AddNode(Node{
				ID:    f.ID,
				Type:  TypeFunction,
				Label: f.FunctionName,
				Attrs: compact(map[string]string{
					AttrFunctionName:  f.FunctionName,
					AttrImplementedIn: f.ImplementedIn,
					AttrVersion:       f.FunctionVersion,
					AttrHash:          f.SourceHash,
				}),
			})
		}
	}

	for _, e := range doc.Executions {
		fn := functions[e.UsedFunction]
		attrs := compact(map[string]string{
			AttrExecutionOrder: strconv.Itoa(e.ExecutionOrder),
			AttrFunction:       fn.FunctionName,
			AttrModule:         fn.ImplementedIn,
			AttrCodeStatement:  e.CodeStatement,
			AttrOutcome:        e.Outcome,
			AttrError:          e.Error,
			AttrStartedAt:      e.StartedAtTime,
			AttrEndedAt:        e.EndedAtTime,
			AttrSession:        doc.Session,
		})
		for _, p := range e.HasParameter {
			attrs[ParamPrefix+p.Name] = literal(p.Value)
		}
		if !b.g.AddNode(Node{ID: e.ID, Type: TypeExecution, Label: fn.FunctionName, Attrs: attrs}) {
			continue
		}
		if b.opts.Full {
			b.pending = append(b.pending,
				Edge{Source: e.ID, Target: e.UsedFunction, Role: RoleUsedFunction},
			)
			if e.WasAssociatedWith != "" {
				b.pending = append(b.pending, Edge{Source: e.ID, Target: e.WasAssociatedWith, Role: RoleAssociated})
			}
			b.addPairs(e.ID, "parameter", RoleHasParameter, e.HasParameter)
		}
	}

	for _, e := range doc.Entities {
		if e.Type == prov.ClassFileEntity {
			b.g.AddNode(Node{
				ID:    e.ID,
				Type:  TypeFile,
				Label: "File",
				Attrs: compact(map[string]string{
					AttrFilePath:   e.FilePath,
					AttrHash:       e.Hash,
					AttrHashSource: e.HashSource,
				}),
			})
			continue
		}

		attrs := compact(map[string]string{
			AttrValueType:      e.ValueType,
			AttrHash:           e.Hash,
			AttrHashSource:     e.HashSource,
			AttrContainer:      e.Container,
			AttrFromAttribute:  e.FromAttribute,
			AttrContainerSlice: e.ContainerSlice,
			AttrAccessor:       accessorOf(e),
		})
		if e.ContainerIndex != nil {
			attrs[AttrContainerIndex] = strconv.Itoa(*e.ContainerIndex)
		}
		for _, p := range e.HasAttribute {
			attrs[AttributePrefix+p.Name] = literal(p.Value)
		}
		for _, p := range e.HasAnnotation {
			attrs[AnnotationPrefix+p.Name] = literal(p.Value)
		}
		if !b.g.AddNode(Node{ID: e.ID, Type: TypeDataObject, Label: e.ValueType, Attrs: attrs}) {
			continue
		}
		if b.opts.Full {
			b.addPairs(e.ID, "attribute", RoleHasAttribute, e.HasAttribute)
			b.addPairs(e.ID, "annotation", RoleHasAnnotation, e.HasAnnotation)
		}
	}
}

func (b *builder) addPairs(owner, kind string, role Role, pairs []prov.Pair) {
	for _, p := range pairs {
		value := literal(p.Value)
		id := fmt.Sprintf("%s#%s:%s", owner, kind, p.Name)
		b.g.AddNode(Node{
			ID:    id,
			Type:  TypeNameValuePair,
			Label: p.Name + "=" + value,
			Attrs: map[string]string{AttrPairName: p.Name, AttrPairValue: value},
		})
		b.pending = append(b.pending, Edge{Source: owner, Target: id, Role: role})
	}
}

func (b *builder) addEdges(doc *prov.Document) error {
	for _, e := range b.pending {
		if err := b.g.AddEdge(e); err != nil {
			return err
		}
	}
	b.pending = nil

	for _, e := range doc.Executions {
		if _, dup := b.executed[e.ID]; dup {
			continue
		}
		b.executed[e.ID] = struct{}{}
		for _, u := range e.Used {
			if err := b.g.AddEdge(Edge{Source: u.Entity, Target: e.ID, Role: RoleUses, Arg: u.Role}); err != nil {
				return err
			}
		}
		for _, u := range e.Generated {
			if err := b.g.AddEdge(Edge{Source: e.ID, Target: u.Entity, Role: RoleGenerates, Arg: u.Role}); err != nil {
				return err
			}
		}
	}

	for _, r := range doc.Relations {
		if _, dup := b.related[r]; dup {
			continue
		}
		b.related[r] = struct{}{}

		edge := Edge{Source: r.Subject, Target: r.Object}
		switch r.Type {
		case prov.RelationInformedBy:
			edge.Role = RoleInformedBy
		case prov.RelationDerivedFrom:
			edge.Role = RoleDerivesFrom
			if n, ok := b.g.GetNode(r.Subject); ok && n.Attrs[AttrContainer] == r.Object {
				edge.Arg = n.Attrs[AttrAccessor]
			}
		}
		if err := b.g.AddEdge(edge); err != nil {
			return err
		}
	}
	return nil
}

func accessorOf(e prov.EntityRecord) string {
	switch {
	case e.FromAttribute != "":
		return core.Attribute(e.FromAttribute).String()
	case e.ContainerIndex != nil:
		return core.Index(*e.ContainerIndex).String()
	case e.ContainerSlice != "":
		return core.Accessor{Kind: core.AccessSlice, Slice: e.ContainerSlice}.String()
	default:
		return ""
	}
}

// literal renders a pair value read back from any codec as a string. Numbers
// render the same whichever codec decoded them.
func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if strings.ContainsAny(t.String(), ".eE") {
			if f, err := t.Float64(); err == nil {
				return strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

func compact(attrs map[string]string) map[string]string {
	for k, v := range attrs {
		if v == "" {
			delete(attrs, k)
		}
	}
	return attrs
}
