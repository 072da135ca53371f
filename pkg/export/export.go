// Package export writes graphs, typically aggregation summaries, in formats
// read by graph visualization tools.
package export

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/adapters/fs"
	"github.com/aretw0/trail/pkg/core"
	"github.com/aretw0/trail/pkg/graph"
)

// Options controls rendering.
type Options struct {
	// LabelAttributes are appended to node labels as name=value, in order.
	LabelAttributes []string
}

// Writer encodes a graph in one format.
type Writer interface {
	Write(w io.Writer, g *graph.Graph, opts Options) error
}

// Writers returns the built-in writers by file suffix.
func Writers() map[string]Writer {
	return map[string]Writer{
		".gexf":    GEXF{},
		".graphml": GraphML{},
	}
}

// Formats returns the supported suffixes, sorted.
func Formats() []string {
	var out []string
	for ext := range Writers() {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// WriterFor returns the writer selected by the suffix of name.
func WriterFor(name string) (Writer, error) {
	lower := strings.ToLower(name)
	for ext, w := range Writers() {
		if strings.HasSuffix(lower, ext) {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (supported: %v)", core.ErrUnknownFormat, name, Formats())
}

// WriteFile writes g to path in the format its suffix selects. The file is
// replaced atomically, so a failed export leaves no partial output.
func WriteFile(fsys afero.Fs, path string, g *graph.Graph, opts Options) error {
	w, err := WriterFor(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := w.Write(&buf, g, opts); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return fs.WriteFileAtomic(fsys, path, buf.Bytes(), 0644)
}

// Label renders a node as "label (count) name=value ...".
func Label(n *graph.Node, attrs []string) string {
	var b strings.Builder
	b.WriteString(n.Label)
	if b.Len() == 0 {
		b.WriteString(n.Type)
	}
	fmt.Fprintf(&b, " (%d)", n.Weight())
	for _, name := range attrs {
		if v, ok := n.Attr(name); ok {
			fmt.Fprintf(&b, " %s=%s", name, v)
		}
	}
	return b.String()
}

// attributeNames returns the sorted union of attribute names over nodes.
func attributeNames(nodes []*graph.Node) []string {
	seen := make(map[string]struct{})
	for _, n := range nodes {
		for k := range n.Attrs {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
