// Package identity computes stable identifiers for runtime values, files and functions.
//
// Identity is content-sensitive: two observations of values with the same type
// and canonical encoding collapse to one entity. Values with mutable storage
// (see Box) mix a version token into the hash, so an in-place mutation always
// yields a new entity. Values that cannot be encoded fall back to an
// ephemeral identity valid for the lifetime of the process and are flagged
// with hash source "id".
//
// A Resolver is not safe for concurrent use.
package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/core"
)

// FileHashMode selects how files are hashed.
type FileHashMode string

const (
	// HashContent hashes the file bytes with SHA-256.
	HashContent FileHashMode = "sha256"
	// HashAttributes hashes the absolute path, size and modification time. Fast, but not unique.
	HashAttributes FileHashMode = "attribute"
)

// Config holds the configuration for a Resolver.
type Config struct {
	FS           afero.Fs
	FileHashMode FileHashMode
	Logger       *slog.Logger

	// BuiltinHashPackages lists package path prefixes whose values are identified
	// by reference only, for objects that change on every use.
	BuiltinHashPackages []string
}

type refKey struct {
	addr uintptr
	typ  reflect.Type
	len  int
}

// ephemeralRef holds on to the value so its address is not reused while
// the identity is handed out.
type ephemeralRef struct {
	id    string
	value any
}

// Resolver turns values into DataObjectEntity and FileEntity identities.
type Resolver struct {
	config    Config
	ephemeral map[refKey]ephemeralRef
}

// NewResolver creates a resolver. A nil FS defaults to the OS filesystem.
func NewResolver(config Config) *Resolver {
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}
	if config.FileHashMode == "" {
		config.FileHashMode = HashContent
	}
	return &Resolver{
		config:    config,
		ephemeral: make(map[refKey]ephemeralRef),
	}
}

// Resolve returns the identity of v as a standalone value.
func (r *Resolver) Resolve(v any) core.DataObjectEntity {
	typeName := TypeName(v)
	hash, source := r.hashValue(v, typeName)
	return core.DataObjectEntity{
		ID:          core.DataObjectURN(typeName, hash),
		TypeName:    typeName,
		Hash:        hash,
		HashSource:  source,
		Attributes:  attributesOf(v),
		Annotations: annotationsOf(v),
	}
}

// ResolveDerived returns the identity of v reached from parent through acc.
// The hash covers the parent hash and the accessor only.
func (r *Resolver) ResolveDerived(v any, parent core.DataObjectEntity, acc core.Accessor) core.DataObjectEntity {
	typeName := TypeName(v)
	hash := hashDerived(parent.Hash, acc.String())
	a := acc
	return core.DataObjectEntity{
		ID:          core.DataObjectURN(typeName, hash),
		TypeName:    typeName,
		Hash:        hash,
		HashSource:  parent.HashSource,
		Attributes:  attributesOf(v),
		Annotations: annotationsOf(v),
		Parent:      parent.ID,
		Accessor:    &a,
	}
}

func (r *Resolver) hashValue(v any, typeName string) (string, string) {
	if v == nil {
		return uuid.NewString(), SourceEphemeral
	}

	var version uint64
	inner := v
	if vv, ok := v.(Versioned); ok {
		version = vv.ProvVersion()
	}
	if u, ok := v.(Unwrapper); ok {
		inner = u.ProvValue()
	}

	if r.builtinHashed(inner) {
		return r.ephemeralID(v), SourceEphemeral
	}

	m, memoized := v.(memoizer)
	if memoized {
		if h, ok := m.provMemo(version); ok {
			return h, SourceContent
		}
	}

	data, err := canonicalBytes(inner)
	if err != nil {
		if r.config.Logger != nil {
			r.config.Logger.Warn("value not content-hashable, using ephemeral identity",
				"type", typeName, "error", err)
		}
		return r.ephemeralID(v), SourceEphemeral
	}

	h := hashObject(typeName, version, data)
	if memoized {
		m.setProvMemo(version, h)
	}
	return h, SourceContent
}

func (r *Resolver) ephemeralID(v any) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Func, reflect.Map, reflect.Slice, reflect.UnsafePointer:
		if rv.IsNil() {
			return uuid.NewString()
		}
		key := refKey{addr: rv.Pointer(), typ: rv.Type()}
		if rv.Kind() == reflect.Slice {
			key.len = rv.Len()
		}
		if ref, ok := r.ephemeral[key]; ok {
			return ref.id
		}
		id := uuid.NewString()
		r.ephemeral[key] = ephemeralRef{id: id, value: v}
		return id
	default:
		return uuid.NewString()
	}
}

func (r *Resolver) builtinHashed(v any) bool {
	if len(r.config.BuiltinHashPackages) == 0 || v == nil {
		return false
	}
	pkg := packageOf(reflect.TypeOf(v))
	if pkg == "" {
		return false
	}
	for _, prefix := range r.config.BuiltinHashPackages {
		if pkg == prefix || strings.HasPrefix(pkg, prefix+"/") {
			return true
		}
	}
	return false
}

// TypeName returns the package-qualified type name of v ("nil" for nil).
// Values held in a Box report the boxed type.
func TypeName(v any) string {
	if u, ok := v.(Unwrapper); ok {
		v = u.ProvValue()
	}
	if v == nil {
		return "nil"
	}
	return typeString(reflect.TypeOf(v))
}

func typeString(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		return "*" + typeString(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func packageOf(t reflect.Type) string {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	return t.PkgPath()
}

func attributesOf(v any) []core.NameValuePair {
	if a, ok := v.(Attributed); ok {
		return Literals(a.ProvAttributes())
	}
	if u, ok := v.(Unwrapper); ok {
		if a, ok := u.ProvValue().(Attributed); ok {
			return Literals(a.ProvAttributes())
		}
	}
	return nil
}

func annotationsOf(v any) []core.NameValuePair {
	if a, ok := v.(Annotated); ok {
		return Literals(a.ProvAnnotations())
	}
	if u, ok := v.(Unwrapper); ok {
		if a, ok := u.ProvValue().(Annotated); ok {
			return Literals(a.ProvAnnotations())
		}
	}
	return nil
}

// Literals normalizes pair values to literals: strings, bools, integers and
// floats pass through, anything else is rendered as a string.
func Literals(pairs []core.NameValuePair) []core.NameValuePair {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]core.NameValuePair, len(pairs))
	for i, p := range pairs {
		out[i] = core.NameValuePair{Name: p.Name, Value: Literal(p.Value)}
	}
	return out
}

// Literal converts a value to a literal suitable for a NameValuePair.
func Literal(v any) any {
	switch t := v.(type) {
	case nil:
		return "None"
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case fmt.Stringer:
		return t.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
