// Package graph loads provenance documents into an in-memory directed
// multigraph.
//
// Nodes are executions, data objects and files; in full mode also functions,
// the script agent and every name/value pair. Edges follow the flow of data:
//
//	entity    --uses-->          execution
//	execution --generates-->     entity
//	entity    --derivesFrom-->   entity (child to parent)
//	execution --informedBy-->    execution (inner to caller)
//
// A Graph is built once and then only read. Transformations such as
// RemoveNone return a new graph and leave their input untouched.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/trail/pkg/prov"
)

// Node types.
const (
	TypeExecution     = prov.ClassFunctionExecution
	TypeDataObject    = prov.ClassDataObjectEntity
	TypeFile          = prov.ClassFileEntity
	TypeFunction      = prov.ClassFunction
	TypeAgent         = prov.ClassScriptAgent
	TypeNameValuePair = "NameValuePair"
)

// Role labels an edge.
type Role string

const (
	RoleUses          Role = "uses"
	RoleGenerates     Role = "generates"
	RoleDerivesFrom   Role = "derivesFrom"
	RoleInformedBy    Role = "informedBy"
	RoleUsedFunction  Role = "usedFunction"
	RoleAssociated    Role = "wasAssociatedWith"
	RoleHasParameter  Role = "hasParameter"
	RoleHasAttribute  Role = "hasAttribute"
	RoleHasAnnotation Role = "hasAnnotation"
)

// Attribute keys set by the loader.
const (
	AttrExecutionOrder = "execution_order"
	AttrFunction       = "function"
	AttrModule         = "module"
	AttrCodeStatement  = "code_statement"
	AttrOutcome        = "outcome"
	AttrError          = "error"
	AttrStartedAt      = "started_at"
	AttrEndedAt        = "ended_at"
	AttrSession        = "session"
	AttrValueType      = "value_type"
	AttrHash           = "hash"
	AttrHashSource     = "hash_source"
	AttrFromAttribute  = "from_attribute"
	AttrContainerIndex = "container_index"
	AttrContainerSlice = "container_slice"
	AttrAccessor       = "accessor"
	AttrContainer      = "container"
	AttrFilePath       = "file_path"
	AttrFunctionName   = "function_name"
	AttrImplementedIn  = "implemented_in"
	AttrVersion        = "version"
	AttrScriptPath     = "script_path"
	AttrPairName       = "pair_name"
	AttrPairValue      = "pair_value"

	// ParamPrefix prefixes function parameters on execution nodes.
	ParamPrefix = "param:"
	// AttributePrefix prefixes value attributes on data object nodes.
	AttributePrefix = "attribute:"
	// AnnotationPrefix prefixes annotations on data object nodes.
	AnnotationPrefix = "annotation:"
)

// Node is a vertex of the graph.
type Node struct {
	ID    string
	Type  string
	Label string
	Attrs map[string]string
	// Count is the number of original nodes this node stands for. Loaded
	// nodes have 1; summary nodes carry their group size.
	Count int
}

// Attr returns the value of the named attribute. Value attributes and
// annotations are found by their bare name as well as by their prefixed key;
// loader keys win over a value attribute of the same name, and value
// attributes over annotations.
func (n *Node) Attr(name string) (string, bool) {
	key, ok := n.AttrKey(name)
	if !ok {
		return "", false
	}
	return n.Attrs[key], true
}

// AttrKey returns the key of Attrs that Attr reads name from.
func (n *Node) AttrKey(name string) (string, bool) {
	for _, key := range []string{name, AttributePrefix + name, AnnotationPrefix + name} {
		if _, ok := n.Attrs[key]; ok {
			return key, true
		}
	}
	return "", false
}

// Weight returns Count, treating zero as one.
func (n *Node) Weight() int {
	if n.Count <= 0 {
		return 1
	}
	return n.Count
}

// Parameters returns the parameter names of an execution node, sorted.
func (n *Node) Parameters() []string {
	var names []string
	for k := range n.Attrs {
		if strings.HasPrefix(k, ParamPrefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func (n *Node) clone() *Node {
	c := *n
	c.Attrs = make(map[string]string, len(n.Attrs))
	for k, v := range n.Attrs {
		c.Attrs[k] = v
	}
	return &c
}

// Edge is a directed, labeled edge. Parallel edges are allowed.
type Edge struct {
	Source string
	Target string
	Role   Role
	// Arg is the formal argument of a uses/generates edge, or the accessor of
	// a membership derivation such as "[0]" or ".name".
	Arg string
	// Weight is the number of original edges this edge stands for.
	Weight int
}

// Multiplicity returns Weight, treating zero as one.
func (e Edge) Multiplicity() int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}

// Graph is a directed multigraph with nodes kept in insertion order.
type Graph struct {
	nodes []*Node
	index map[string]int
	edges []Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode adds n unless a node with the same ID exists. It reports whether n was added.
func (g *Graph) AddNode(n Node) bool {
	if _, ok := g.index[n.ID]; ok {
		return false
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	if n.Count == 0 {
		n.Count = 1
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, &n)
	return true
}

// AddEdge adds e. Both endpoints must already exist.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.index[e.Source]; !ok {
		return fmt.Errorf("edge %s: source %s: node not found", e.Role, e.Source)
	}
	if _, ok := g.index[e.Target]; !ok {
		return fmt.Errorf("edge %s: target %s: node not found", e.Role, e.Target)
	}
	if e.Weight == 0 {
		e.Weight = 1
	}
	g.edges = append(g.edges, e)
	return nil
}

// GetNode returns the node with the given ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns the nodes in insertion order. The nodes must not be mutated.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodesOfType returns the nodes of type t in insertion order.
func (g *Graph) NodesOfType(t string) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// EdgesWithRole returns the edges labeled r in insertion order.
func (g *Graph) EdgesWithRole(r Role) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Role == r {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes: make([]*Node, len(g.nodes)),
		index: make(map[string]int, len(g.index)),
		edges: make([]Edge, len(g.edges)),
	}
	for i, n := range g.nodes {
		c.nodes[i] = n.clone()
		c.index[n.ID] = i
	}
	copy(c.edges, g.edges)
	return c
}

// without returns a copy of g lacking the removed nodes and every edge
// touching them.
func (g *Graph) without(removed map[string]bool) *Graph {
	c := New()
	for _, n := range g.nodes {
		if removed[n.ID] {
			continue
		}
		c.AddNode(*n.clone())
	}
	c.edges = filterEdges(g.edges, removed)
	return c
}

func filterEdges(edges []Edge, removed map[string]bool) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if removed[e.Source] || removed[e.Target] {
			continue
		}
		out = append(out, e)
	}
	return out
}
