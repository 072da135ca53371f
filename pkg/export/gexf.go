package export

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/aretw0/trail/pkg/graph"
)

// GEXF writes GEXF 1.2 documents. Node type, count and every attribute become
// node attributes; edges carry their role as label and their multiplicity as
// weight.
type GEXF struct{}

type gexfDoc struct {
	XMLName xml.Name  `xml:"gexf"`
	XMLNS   string    `xml:"xmlns,attr"`
	Version string    `xml:"version,attr"`
	Meta    gexfMeta  `xml:"meta"`
	Graph   gexfGraph `xml:"graph"`
}

type gexfMeta struct {
	Creator     string `xml:"creator"`
	Description string `xml:"description,omitempty"`
}

type gexfGraph struct {
	Mode            string           `xml:"mode,attr"`
	DefaultEdgeType string           `xml:"defaultedgetype,attr"`
	Attributes      []gexfAttributes `xml:"attributes"`
	Nodes           []gexfNode       `xml:"nodes>node"`
	Edges           []gexfEdge       `xml:"edges>edge"`
}

type gexfAttributes struct {
	Class      string          `xml:"class,attr"`
	Attributes []gexfAttribute `xml:"attribute"`
}

type gexfAttribute struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type gexfValue struct {
	For   string `xml:"for,attr"`
	Value string `xml:"value,attr"`
}

type gexfNode struct {
	ID     string      `xml:"id,attr"`
	Label  string      `xml:"label,attr"`
	Values []gexfValue `xml:"attvalues>attvalue,omitempty"`
}

type gexfEdge struct {
	ID     string      `xml:"id,attr"`
	Source string      `xml:"source,attr"`
	Target string      `xml:"target,attr"`
	Label  string      `xml:"label,attr"`
	Weight int         `xml:"weight,attr"`
	Values []gexfValue `xml:"attvalues>attvalue,omitempty"`
}

const (
	gexfNamespace = "http://gexf.net/1.2"
	gexfVersion   = "1.2"
)

func (GEXF) Write(w io.Writer, g *graph.Graph, opts Options) error {
	nodes := g.Nodes()
	names := attributeNames(nodes)

	// Columns 0 and 1 are fixed; node attributes follow.
	nodeAttrs := gexfAttributes{Class: "node", Attributes: []gexfAttribute{
		{ID: "0", Title: "type", Type: "string"},
		{ID: "1", Title: "count", Type: "integer"},
	}}
	column := make(map[string]string, len(names))
	for i, name := range names {
		id := strconv.Itoa(i + 2)
		column[name] = id
		nodeAttrs.Attributes = append(nodeAttrs.Attributes, gexfAttribute{ID: id, Title: name, Type: "string"})
	}
	edgeAttrs := gexfAttributes{Class: "edge", Attributes: []gexfAttribute{
		{ID: "0", Title: "role", Type: "string"},
		{ID: "1", Title: "arg", Type: "string"},
	}}

	doc := gexfDoc{
		XMLNS:   gexfNamespace,
		Version: gexfVersion,
		Meta:    gexfMeta{Creator: "trail"},
		Graph: gexfGraph{
			Mode:            "static",
			DefaultEdgeType: "directed",
			Attributes:      []gexfAttributes{nodeAttrs, edgeAttrs},
		},
	}

	for _, n := range nodes {
		node := gexfNode{ID: n.ID, Label: Label(n, opts.LabelAttributes)}
		node.Values = append(node.Values,
			gexfValue{For: "0", Value: n.Type},
			gexfValue{For: "1", Value: strconv.Itoa(n.Weight())},
		)
		for _, name := range names {
			if v, ok := n.Attrs[name]; ok {
				node.Values = append(node.Values, gexfValue{For: column[name], Value: v})
			}
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
	}

	for i, e := range g.Edges() {
		edge := gexfEdge{
			ID:     strconv.Itoa(i),
			Source: e.Source,
			Target: e.Target,
			Label:  string(e.Role),
			Weight: e.Multiplicity(),
			Values: []gexfValue{{For: "0", Value: string(e.Role)}},
		}
		if e.Arg != "" {
			edge.Values = append(edge.Values, gexfValue{For: "1", Value: e.Arg})
		}
		doc.Graph.Edges = append(doc.Graph.Edges, edge)
	}

	return encodeXML(w, doc)
}

func encodeXML(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
