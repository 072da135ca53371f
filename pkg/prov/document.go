// Package prov converts a capture log into the persisted provenance document.
//
// A Document is a flat set of typed records. Record and property names follow
// the provenance ontology: classes Function, FunctionExecution,
// DataObjectEntity, FileEntity, NameValuePair and ScriptAgent, and properties
// such as usedFunction, hasParameter, executionOrder or filePath.
package prov

// Record classes.
const (
	ClassFunction          = "Function"
	ClassFunctionExecution = "FunctionExecution"
	ClassDataObjectEntity  = "DataObjectEntity"
	ClassFileEntity        = "FileEntity"
	ClassScriptAgent       = "ScriptAgent"
)

// Relation types.
const (
	RelationDerivedFrom = "wasDerivedFrom"
	RelationInformedBy  = "wasInformedBy"
)

// FormatVersion is written into every document.
const FormatVersion = "1"

// Document is the persisted form of one capture session.
type Document struct {
	Format     string            `json:"format" yaml:"format"`
	Session    string            `json:"session" yaml:"session"`
	Agent      AgentRecord       `json:"agent" yaml:"agent"`
	Functions  []FunctionRecord  `json:"functions" yaml:"functions"`
	Executions []ExecutionRecord `json:"executions" yaml:"executions"`
	Entities   []EntityRecord    `json:"entities" yaml:"entities"`
	Relations  []Relation        `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Pair is a NameValuePair.
type Pair struct {
	Name  string `json:"pairName" yaml:"pairName"`
	Value any    `json:"pairValue" yaml:"pairValue"`
}

// AgentRecord is the ScriptAgent.
type AgentRecord struct {
	ID         string `json:"@id" yaml:"id"`
	Type       string `json:"@type" yaml:"type"`
	ScriptPath string `json:"scriptPath" yaml:"scriptPath"`
	ScriptHash string `json:"scriptHash,omitempty" yaml:"scriptHash,omitempty"`
	Version    string `json:"scriptVersion,omitempty" yaml:"scriptVersion,omitempty"`
}

// FunctionRecord is a Function.
type FunctionRecord struct {
	ID              string `json:"@id" yaml:"id"`
	Type            string `json:"@type" yaml:"type"`
	FunctionName    string `json:"functionName" yaml:"functionName"`
	ImplementedIn   string `json:"implementedIn,omitempty" yaml:"implementedIn,omitempty"`
	FunctionVersion string `json:"functionVersion,omitempty" yaml:"functionVersion,omitempty"`
	SourceHash      string `json:"sourceHash,omitempty" yaml:"sourceHash,omitempty"`
}

// Use links an execution to an entity under a formal-argument role.
type Use struct {
	Entity string `json:"entity" yaml:"entity"`
	Role   string `json:"role" yaml:"role"`
}

// ExecutionRecord is a FunctionExecution.
type ExecutionRecord struct {
	ID                string `json:"@id" yaml:"id"`
	Type              string `json:"@type" yaml:"type"`
	UsedFunction      string `json:"usedFunction" yaml:"usedFunction"`
	ExecutionOrder    int    `json:"executionOrder" yaml:"executionOrder"`
	CodeStatement     string `json:"codeStatement,omitempty" yaml:"codeStatement,omitempty"`
	HasParameter      []Pair `json:"hasParameter,omitempty" yaml:"hasParameter,omitempty"`
	Used              []Use  `json:"used,omitempty" yaml:"used,omitempty"`
	Generated         []Use  `json:"generated,omitempty" yaml:"generated,omitempty"`
	WasAssociatedWith string `json:"wasAssociatedWith" yaml:"wasAssociatedWith"`
	StartedAtTime     string `json:"startedAtTime,omitempty" yaml:"startedAtTime,omitempty"`
	EndedAtTime       string `json:"endedAtTime,omitempty" yaml:"endedAtTime,omitempty"`
	Outcome           string `json:"outcome" yaml:"outcome"`
	Error             string `json:"error,omitempty" yaml:"error,omitempty"`
}

// EntityRecord is a DataObjectEntity or a FileEntity, told apart by Type.
type EntityRecord struct {
	ID         string `json:"@id" yaml:"id"`
	Type       string `json:"@type" yaml:"type"`
	Hash       string `json:"hash" yaml:"hash"`
	HashSource string `json:"hashSource" yaml:"hashSource"`

	// DataObjectEntity only.
	ValueType      string `json:"valueType,omitempty" yaml:"valueType,omitempty"`
	HasAttribute   []Pair `json:"hasAttribute,omitempty" yaml:"hasAttribute,omitempty"`
	HasAnnotation  []Pair `json:"hasAnnotation,omitempty" yaml:"hasAnnotation,omitempty"`
	FromAttribute  string `json:"fromAttribute,omitempty" yaml:"fromAttribute,omitempty"`
	ContainerIndex *int   `json:"containerIndex,omitempty" yaml:"containerIndex,omitempty"`
	ContainerSlice string `json:"containerSlice,omitempty" yaml:"containerSlice,omitempty"`
	Container      string `json:"container,omitempty" yaml:"container,omitempty"`

	// FileEntity only.
	FilePath string `json:"filePath,omitempty" yaml:"filePath,omitempty"`
}

// Relation is a binary relation between two records.
// For wasDerivedFrom, Subject is the derived entity; for wasInformedBy, the
// inner execution.
type Relation struct {
	Type    string `json:"@type" yaml:"type"`
	Subject string `json:"subject" yaml:"subject"`
	Object  string `json:"object" yaml:"object"`
}
