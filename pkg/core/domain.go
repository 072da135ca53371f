// Package core holds the provenance data model shared by capture, serialization and analysis.
package core

import (
	"fmt"
	"time"
)

// NameValuePair is a generic (name, value) slot used for parameters, attributes and annotations.
// Value is a literal: string, bool, an integer, a float, or a string rendering of anything else.
type NameValuePair struct {
	Name  string
	Value any
}

// Function is the static identity of a callable.
type Function struct {
	Name       string
	Module     string
	Version    string
	// SourceHash changes whenever the file defining the function changes.
	SourceHash string
}

// QualifiedName returns "module.name", or just the name when the module is unknown.
func (f Function) QualifiedName() string {
	if f.Module == "" {
		return f.Name
	}
	return f.Module + "." + f.Name
}

// ID returns the persistent identifier of the function.
func (f Function) ID() string {
	return FunctionURN(f.QualifiedName())
}

// Outcome records how a tracked call terminated.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// EntityKind discriminates the two disjoint entity classes.
type EntityKind string

const (
	KindDataObject EntityKind = "DataObjectEntity"
	KindFile       EntityKind = "FileEntity"
)

// EntityRef points at an entity recorded in a Log.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// Usage is a "used" edge from an execution to an entity, tagged with the formal argument role.
type Usage struct {
	Role   string
	Entity EntityRef
}

// Generation is a "generated" edge from an execution to an entity.
type Generation struct {
	Role   string
	Entity EntityRef
}

// FunctionExecution is one invocation of a Function.
type FunctionExecution struct {
	ID            string
	Order         int
	Function      Function
	CodeStatement string
	Parameters    []NameValuePair
	Usages        []Usage
	Generations   []Generation
	Outcome       Outcome
	Error         string
	StartedAt     time.Time
	EndedAt       time.Time

	// CallerOrder is the executionOrder of the enclosing tracked call, 0 at top level.
	CallerOrder int
}

// AccessorKind names how a derived value was reached from its parent.
type AccessorKind string

const (
	AccessAttribute AccessorKind = "attribute"
	AccessIndex     AccessorKind = "index"
	AccessSlice     AccessorKind = "slice"
)

// Accessor describes an attribute access, container index or slice.
type Accessor struct {
	Kind  AccessorKind
	Name  string
	Index int
	Slice string
}

// Attribute returns an accessor for parent.name.
func Attribute(name string) Accessor { return Accessor{Kind: AccessAttribute, Name: name} }

// Index returns an accessor for parent[i].
func Index(i int) Accessor { return Accessor{Kind: AccessIndex, Index: i} }

// Slice returns an accessor for parent[start:stop].
func Slice(start, stop int) Accessor {
	return Accessor{Kind: AccessSlice, Slice: fmt.Sprintf("%d:%d", start, stop)}
}

// String renders the accessor the way it would appear in source code.
func (a Accessor) String() string {
	switch a.Kind {
	case AccessAttribute:
		return "." + a.Name
	case AccessIndex:
		return fmt.Sprintf("[%d]", a.Index)
	case AccessSlice:
		return "[" + a.Slice + "]"
	default:
		return ""
	}
}

// DataObjectEntity is a runtime value observed at a point in time.
type DataObjectEntity struct {
	ID          string
	TypeName    string
	Hash        string
	HashSource  string
	Attributes  []NameValuePair
	Annotations []NameValuePair

	// Parent and Accessor are set for values reached by indexing, slicing or attribute access.
	Parent   string
	Accessor *Accessor
}

// Ref returns a reference to the entity.
func (e DataObjectEntity) Ref() EntityRef { return EntityRef{Kind: KindDataObject, ID: e.ID} }

// FileEntity is a file on the filesystem.
type FileEntity struct {
	ID       string
	Path     string
	Hash     string
	HashType string
}

// Ref returns a reference to the entity.
func (e FileEntity) Ref() EntityRef { return EntityRef{Kind: KindFile, ID: e.ID} }

// ScriptAgent is the run as a whole.
type ScriptAgent struct {
	ID        string
	Path      string
	Hash      string
	SessionID string
	Version   string
}

// Derivation records that Child was derived from Parent. Accessor is nil for
// derivations produced by computation rather than by access.
type Derivation struct {
	Child    EntityRef
	Parent   EntityRef
	Accessor *Accessor
}

// Log is the finished, ordered record of one capture session.
// Entities appear in first-seen order; executions in executionOrder.
type Log struct {
	SessionID   string
	Agent       ScriptAgent
	Functions   []Function
	Executions  []FunctionExecution
	DataObjects []DataObjectEntity
	Files       []FileEntity
	Derivations []Derivation
}
