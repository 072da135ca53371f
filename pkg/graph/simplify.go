package graph

// NilType is the value type recorded for nil values.
const NilType = "nil"

// RemoveNone returns a copy of g without data objects holding nil, such as
// the result of a function that returns nothing useful, and without the
// pairs attached to them.
func RemoveNone(g *Graph) *Graph {
	removed := make(map[string]bool)
	for _, n := range g.nodes {
		if n.Type == TypeDataObject && n.Attrs[AttrValueType] == NilType {
			removed[n.ID] = true
		}
	}
	return g.without(withPairs(g, removed))
}

// CondenseMemberships returns a copy of g where chains of container members
// are collapsed. A member such as block.segments[0] that only links its own
// members to its container, and is neither used nor generated by an
// execution, is removed; its members link straight to the first kept
// ancestor with the accessors concatenated (".segments[0][1]"). Members whose
// value type is listed in preserve are always kept.
func CondenseMemberships(g *Graph, preserve ...string) *Graph {
	keep := make(map[string]bool, len(preserve))
	for _, p := range preserve {
		keep[p] = true
	}

	container := make(map[string]string)
	accessor := make(map[string]string)
	touched := make(map[string]bool)
	for _, e := range g.edges {
		switch {
		case isMembership(e):
			container[e.Source] = e.Target
			accessor[e.Source] = e.Arg
		case e.Role == RoleHasAttribute, e.Role == RoleHasAnnotation:
		default:
			touched[e.Source] = true
			touched[e.Target] = true
		}
	}

	condensable := func(id string) bool {
		n, ok := g.GetNode(id)
		if !ok || n.Type != TypeDataObject || touched[id] || keep[n.Attrs[AttrValueType]] {
			return false
		}
		_, member := container[id]
		return member
	}

	c := g.Clone()
	removed := make(map[string]bool)
	for i, e := range c.edges {
		if !isMembership(e) {
			continue
		}
		target, path := e.Target, e.Arg
		for condensable(target) {
			removed[target] = true
			path = accessor[target] + path
			target = container[target]
		}
		if target == e.Target {
			continue
		}
		c.edges[i].Target = target
		c.edges[i].Arg = path
		if n, ok := c.GetNode(e.Source); ok {
			n.Attrs[AttrContainer] = target
			n.Attrs[AttrAccessor] = path
		}
	}
	return c.without(withPairs(c, removed))
}

func isMembership(e Edge) bool {
	return e.Role == RoleDerivesFrom && e.Arg != ""
}

// withPairs adds to removed the pair nodes owned by removed nodes.
func withPairs(g *Graph, removed map[string]bool) map[string]bool {
	for _, e := range g.edges {
		switch e.Role {
		case RoleHasParameter, RoleHasAttribute, RoleHasAnnotation:
			if removed[e.Source] {
				removed[e.Target] = true
			}
		}
	}
	return removed
}
