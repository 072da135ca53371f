package export

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/aretw0/trail/pkg/graph"
)

// GraphML writes GraphML documents with one data key per attribute.
type GraphML struct{}

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	ID     string        `xml:"id,attr"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

const graphmlNamespace = "http://graphml.graphdrawing.org/xmlns"

func (GraphML) Write(w io.Writer, g *graph.Graph, opts Options) error {
	nodes := g.Nodes()
	names := attributeNames(nodes)

	doc := graphmlDoc{
		XMLNS: graphmlNamespace,
		Keys: []graphmlKey{
			{ID: "label", For: "node", AttrName: "label", AttrType: "string"},
			{ID: "type", For: "node", AttrName: "type", AttrType: "string"},
			{ID: "count", For: "node", AttrName: "count", AttrType: "int"},
			{ID: "role", For: "edge", AttrName: "role", AttrType: "string"},
			{ID: "arg", For: "edge", AttrName: "arg", AttrType: "string"},
			{ID: "weight", For: "edge", AttrName: "weight", AttrType: "int"},
		},
		Graph: graphmlGraph{ID: "G", EdgeDefault: "directed"},
	}
	key := make(map[string]string, len(names))
	for i, name := range names {
		id := "n" + strconv.Itoa(i)
		key[name] = id
		doc.Keys = append(doc.Keys, graphmlKey{ID: id, For: "node", AttrName: name, AttrType: "string"})
	}

	for _, n := range nodes {
		node := graphmlNode{ID: n.ID, Data: []graphmlData{
			{Key: "label", Value: Label(n, opts.LabelAttributes)},
			{Key: "type", Value: n.Type},
			{Key: "count", Value: strconv.Itoa(n.Weight())},
		}}
		for _, name := range names {
			if v, ok := n.Attrs[name]; ok {
				node.Data = append(node.Data, graphmlData{Key: key[name], Value: v})
			}
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
	}

	for i, e := range g.Edges() {
		edge := graphmlEdge{
			ID:     "e" + strconv.Itoa(i),
			Source: e.Source,
			Target: e.Target,
			Data: []graphmlData{
				{Key: "role", Value: string(e.Role)},
				{Key: "weight", Value: strconv.Itoa(e.Multiplicity())},
			},
		}
		if e.Arg != "" {
			edge.Data = append(edge.Data, graphmlData{Key: "arg", Value: e.Arg})
		}
		doc.Graph.Edges = append(doc.Graph.Edges, edge)
	}

	return encodeXML(w, doc)
}
