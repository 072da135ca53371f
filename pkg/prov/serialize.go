package prov

import (
	"fmt"
	"time"

	"github.com/aretw0/trail/pkg/core"
)

// Serialize converts a finished log into a Document.
//
// Executions are emitted by executionOrder. Entities are emitted in the order
// executions first refer to them, a derived value directly after its
// container chain; entities reached only through derivations follow in
// first-seen order. Every record and relation appears exactly once, so two
// identical logs produce identical documents.
//
// The log is validated first: a record missing a required field, or a
// reference to an entity the log does not define, fails the whole
// serialization with a *core.RecordError.
func Serialize(log core.Log) (*Document, error) {
	if err := validate(log); err != nil {
		return nil, err
	}

	s := newSerializer(log)
	doc := &Document{
		Format:  FormatVersion,
		Session: log.SessionID,
		Agent: AgentRecord{
			ID:         log.Agent.ID,
			Type:       ClassScriptAgent,
			ScriptPath: log.Agent.Path,
			ScriptHash: log.Agent.Hash,
			Version:    log.Agent.Version,
		},
	}

	seenFunctions := make(map[string]struct{})
	orderToID := make(map[int]string, len(log.Executions))
	for _, e := range log.Executions {
		orderToID[e.Order] = e.ID
	}

	for _, e := range log.Executions {
		fid := e.Function.ID()
		if _, ok := seenFunctions[fid]; !ok {
			seenFunctions[fid] = struct{}{}
			doc.Functions = append(doc.Functions, functionRecord(e.Function))
		}

		rec := ExecutionRecord{
			ID:                e.ID,
			Type:              ClassFunctionExecution,
			UsedFunction:      fid,
			ExecutionOrder:    e.Order,
			CodeStatement:     e.CodeStatement,
			HasParameter:      pairs(e.Parameters),
			WasAssociatedWith: log.Agent.ID,
			StartedAtTime:     formatTime(e.StartedAt),
			EndedAtTime:       formatTime(e.EndedAt),
			Outcome:           string(e.Outcome),
			Error:             e.Error,
		}
		if rec.Outcome == "" {
			rec.Outcome = string(core.OutcomeSuccess)
		}
		for _, u := range e.Usages {
			s.emit(u.Entity.ID)
			rec.Used = append(rec.Used, Use{Entity: u.Entity.ID, Role: u.Role})
		}
		for _, g := range e.Generations {
			s.emit(g.Entity.ID)
			rec.Generated = append(rec.Generated, Use{Entity: g.Entity.ID, Role: g.Role})
		}
		doc.Executions = append(doc.Executions, rec)

		if e.CallerOrder > 0 {
			if caller, ok := orderToID[e.CallerOrder]; ok {
				s.relate(RelationInformedBy, e.ID, caller)
			}
		}
	}

	for _, o := range log.DataObjects {
		s.emit(o.ID)
	}
	for _, f := range log.Files {
		s.emit(f.ID)
	}
	for _, d := range log.Derivations {
		s.relate(RelationDerivedFrom, d.Child.ID, d.Parent.ID)
	}

	doc.Entities = s.entities
	doc.Relations = s.relations
	return doc, nil
}

type serializer struct {
	objects   map[string]core.DataObjectEntity
	files     map[string]core.FileEntity
	emitted   map[string]struct{}
	entities  []EntityRecord
	related   map[Relation]struct{}
	relations []Relation
}

func newSerializer(log core.Log) *serializer {
	s := &serializer{
		objects: make(map[string]core.DataObjectEntity, len(log.DataObjects)),
		files:   make(map[string]core.FileEntity, len(log.Files)),
		emitted: make(map[string]struct{}),
		related: make(map[Relation]struct{}),
	}
	for _, o := range log.DataObjects {
		s.objects[o.ID] = o
	}
	for _, f := range log.Files {
		s.files[f.ID] = f
	}
	return s
}

func (s *serializer) emit(id string) {
	if _, ok := s.emitted[id]; ok {
		return
	}
	s.emitted[id] = struct{}{}

	if f, ok := s.files[id]; ok {
		s.entities = append(s.entities, EntityRecord{
			ID:         f.ID,
			Type:       ClassFileEntity,
			Hash:       f.Hash,
			HashSource: f.HashType,
			FilePath:   f.Path,
		})
		return
	}

	o := s.objects[id]
	if o.Parent != "" {
		s.emit(o.Parent)
	}
	rec := EntityRecord{
		ID:            o.ID,
		Type:          ClassDataObjectEntity,
		Hash:          o.Hash,
		HashSource:    o.HashSource,
		ValueType:     o.TypeName,
		HasAttribute:  pairs(o.Attributes),
		HasAnnotation: pairs(o.Annotations),
		Container:     o.Parent,
	}
	if o.Accessor != nil {
		switch o.Accessor.Kind {
		case core.AccessAttribute:
			rec.FromAttribute = o.Accessor.Name
		case core.AccessIndex:
			idx := o.Accessor.Index
			rec.ContainerIndex = &idx
		case core.AccessSlice:
			rec.ContainerSlice = o.Accessor.Slice
		}
	}
	s.entities = append(s.entities, rec)
}

func (s *serializer) relate(kind, subject, object string) {
	r := Relation{Type: kind, Subject: subject, Object: object}
	if _, ok := s.related[r]; ok {
		return
	}
	s.related[r] = struct{}{}
	s.relations = append(s.relations, r)
}

func validate(log core.Log) error {
	if log.Agent.ID == "" {
		return &core.RecordError{Field: "agent id"}
	}

	known := make(map[string]core.EntityKind, len(log.DataObjects)+len(log.Files))
	for _, o := range log.DataObjects {
		switch {
		case o.ID == "":
			return &core.RecordError{Field: "entity id"}
		case o.Hash == "":
			return &core.RecordError{ID: o.ID, Field: "hash"}
		case o.HashSource == "":
			return &core.RecordError{ID: o.ID, Field: "hashSource"}
		}
		known[o.ID] = core.KindDataObject
	}
	for _, f := range log.Files {
		switch {
		case f.ID == "":
			return &core.RecordError{Field: "entity id"}
		case f.Hash == "":
			return &core.RecordError{ID: f.ID, Field: "hash"}
		case f.Path == "":
			return &core.RecordError{ID: f.ID, Field: "filePath"}
		}
		if _, dup := known[f.ID]; dup {
			return &core.RecordError{ID: f.ID, Field: "distinct identifier"}
		}
		known[f.ID] = core.KindFile
	}
	for _, o := range log.DataObjects {
		if o.Parent != "" {
			if _, ok := known[o.Parent]; !ok {
				return &core.RecordError{ID: o.ID, Field: "container " + o.Parent}
			}
		}
	}

	orders := make(map[int]struct{}, len(log.Executions))
	for _, e := range log.Executions {
		switch {
		case e.ID == "":
			return &core.RecordError{Field: "execution id"}
		case e.Order <= 0:
			return &core.RecordError{ID: e.ID, Field: "executionOrder"}
		case e.Function.Name == "":
			return &core.RecordError{ID: e.ID, Field: "functionName"}
		}
		if _, dup := orders[e.Order]; dup {
			return &core.RecordError{ID: e.ID, Field: fmt.Sprintf("unique executionOrder %d", e.Order)}
		}
		orders[e.Order] = struct{}{}

		for _, u := range e.Usages {
			if err := checkRef(known, e.ID, u.Entity); err != nil {
				return err
			}
		}
		for _, g := range e.Generations {
			if err := checkRef(known, e.ID, g.Entity); err != nil {
				return err
			}
		}
	}
	for _, d := range log.Derivations {
		if err := checkRef(known, d.Child.ID, d.Parent); err != nil {
			return err
		}
		if err := checkRef(known, d.Parent.ID, d.Child); err != nil {
			return err
		}
	}
	return nil
}

func checkRef(known map[string]core.EntityKind, owner string, ref core.EntityRef) error {
	kind, ok := known[ref.ID]
	if !ok || ref.ID == "" {
		return &core.RecordError{ID: owner, Field: "entity " + ref.ID}
	}
	if kind != ref.Kind {
		return &core.RecordError{ID: owner, Field: fmt.Sprintf("%s %s", ref.Kind, ref.ID)}
	}
	return nil
}

func functionRecord(f core.Function) FunctionRecord {
	return FunctionRecord{
		ID:              f.ID(),
		Type:            ClassFunction,
		FunctionName:    f.Name,
		ImplementedIn:   f.Module,
		FunctionVersion: f.Version,
		SourceHash:      f.SourceHash,
	}
}

func pairs(in []core.NameValuePair) []Pair {
	if len(in) == 0 {
		return nil
	}
	out := make([]Pair, len(in))
	for i, p := range in {
		out[i] = Pair{Name: p.Name, Value: p.Value}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
