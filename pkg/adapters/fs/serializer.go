package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/trail/pkg/prov"
)

// Serializer defines how to read and write a specific file format.
type Serializer interface {
	// Parse reads from r and returns a Document.
	Parse(r io.Reader) (*prov.Document, error)
	// Serialize converts the Document to bytes.
	Serialize(doc *prov.Document) ([]byte, error)
}

// DefaultSerializers returns the standard set of serializers, keyed by file suffix.
func DefaultSerializers(strict bool) map[string]Serializer {
	return map[string]Serializer{
		".json":     NewJSONSerializer(strict),
		".yaml":     NewYAMLSerializer(),
		".yml":      NewYAMLSerializer(),
		".json.zst": NewZstdSerializer(NewJSONSerializer(strict)),
		".yaml.zst": NewZstdSerializer(NewYAMLSerializer()),
	}
}

// Extension returns the longest registered suffix of name, or "" if none matches.
func Extension(name string, serializers map[string]Serializer) string {
	lower := strings.ToLower(name)
	best := ""
	for ext := range serializers {
		if strings.HasSuffix(lower, ext) && len(ext) > len(best) {
			best = ext
		}
	}
	return best
}

// Extensions lists registered suffixes in sorted order.
func Extensions(serializers map[string]Serializer) []string {
	out := make([]string, 0, len(serializers))
	for ext := range serializers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// --- JSON Serializer ---

// JSONSerializer handles reading and writing JSON files.
type JSONSerializer struct {
	// Strict rejects documents with fields the reader does not know.
	Strict bool
}

// NewJSONSerializer creates a new JSON serializer. Numbers always decode as
// json.Number so that large integers keep their precision.
func NewJSONSerializer(strict bool) *JSONSerializer {
	return &JSONSerializer{Strict: strict}
}

func (s *JSONSerializer) Parse(r io.Reader) (*prov.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc prov.Document
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if s.Strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return &doc, nil
}

func (s *JSONSerializer) Serialize(doc *prov.Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// --- YAML Serializer ---

// YAMLSerializer handles reading and writing YAML files.
type YAMLSerializer struct{}

// NewYAMLSerializer creates a new YAML serializer.
func NewYAMLSerializer() *YAMLSerializer {
	return &YAMLSerializer{}
}

func (s *YAMLSerializer) Parse(r io.Reader) (*prov.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc prov.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	return &doc, nil
}

func (s *YAMLSerializer) Serialize(doc *prov.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- Zstandard wrapper ---

// ZstdSerializer compresses the output of another serializer.
type ZstdSerializer struct {
	Inner Serializer
}

// NewZstdSerializer wraps inner with zstd compression.
func NewZstdSerializer(inner Serializer) *ZstdSerializer {
	return &ZstdSerializer{Inner: inner}
}

func (s *ZstdSerializer) Parse(r io.Reader) (*prov.Document, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("invalid zstd stream: %w", err)
	}
	return s.Inner.Parse(bytes.NewReader(data))
}

func (s *ZstdSerializer) Serialize(doc *prov.Document) ([]byte, error) {
	data, err := s.Inner.Serialize(doc)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
