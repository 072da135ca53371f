package prov

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/trail/pkg/core"
)

func fixedLog() core.Log {
	fn := core.Function{Name: "transform", Module: "example.com/pipe"}
	load := core.Function{Name: "load", Module: "example.com/pipe"}
	agent := core.ScriptAgent{ID: "urn:trail:script:go:main.go:abc#s", Path: "main.go", SessionID: "s"}
	idx := core.Index(0)

	file := core.FileEntity{ID: "urn:f1", Path: "in.csv", Hash: "f1", HashType: "sha256"}
	data := core.DataObjectEntity{ID: "urn:d", TypeName: "[]string", Hash: "d", HashSource: "sha256",
		Attributes: []core.NameValuePair{{Name: "len", Value: 2}}}
	item := core.DataObjectEntity{ID: "urn:d0", TypeName: "string", Hash: "d0", HashSource: "sha256",
		Parent: "urn:d", Accessor: &idx}
	out := core.DataObjectEntity{ID: "urn:r", TypeName: "string", Hash: "r", HashSource: "sha256"}
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	return core.Log{
		SessionID: "s",
		Agent:     agent,
		Functions: []core.Function{load, fn},
		Executions: []core.FunctionExecution{
			{
				ID: "urn:e1", Order: 1, Function: load, StartedAt: t0, EndedAt: t0,
				Usages:      []core.Usage{{Role: "path", Entity: file.Ref()}},
				Generations: []core.Generation{{Role: "return", Entity: data.Ref()}},
				Outcome:     core.OutcomeSuccess,
			},
			{
				ID: "urn:e2", Order: 2, Function: fn, CodeStatement: "r = transform(d[0], k=2)",
				Parameters:  []core.NameValuePair{{Name: "k", Value: 2}},
				Usages:      []core.Usage{{Role: "data", Entity: item.Ref()}},
				Generations: []core.Generation{{Role: "return", Entity: out.Ref()}},
				Outcome:     core.OutcomeSuccess,
			},
			{
				ID: "urn:e3", Order: 3, Function: fn, CallerOrder: 2,
				Outcome: core.OutcomeFailed, Error: "boom",
			},
		},
		// First-seen order differs from reference order on purpose.
		DataObjects: []core.DataObjectEntity{out, data, item},
		Files:       []core.FileEntity{file},
		Derivations: []core.Derivation{
			{Child: data.Ref(), Parent: file.Ref()},
			{Child: item.Ref(), Parent: data.Ref(), Accessor: &idx},
			{Child: out.Ref(), Parent: item.Ref()},
			{Child: data.Ref(), Parent: file.Ref()},
		},
	}
}

func TestSerialize(t *testing.T) {
	doc, err := Serialize(fixedLog())
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, doc.Format)
	assert.Equal(t, "main.go", doc.Agent.ScriptPath)
	assert.Equal(t, ClassScriptAgent, doc.Agent.Type)

	require.Len(t, doc.Functions, 2)
	assert.Equal(t, "load", doc.Functions[0].FunctionName)
	assert.Equal(t, "example.com/pipe", doc.Functions[0].ImplementedIn)

	require.Len(t, doc.Executions, 3)
	e2 := doc.Executions[1]
	assert.Equal(t, 2, e2.ExecutionOrder)
	assert.Equal(t, "urn:trail:function:go:example.com/pipe.transform", e2.UsedFunction)
	assert.Equal(t, []Pair{{Name: "k", Value: 2}}, e2.HasParameter)
	assert.Equal(t, doc.Agent.ID, e2.WasAssociatedWith)
	assert.Equal(t, "2026-01-02T03:04:05Z", doc.Executions[0].StartedAtTime)
	assert.Equal(t, "failed", doc.Executions[2].Outcome)
	assert.Equal(t, "boom", doc.Executions[2].Error)

	ids := make([]string, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"urn:f1", "urn:d", "urn:d0", "urn:r"}, ids)

	item := doc.Entities[2]
	require.NotNil(t, item.ContainerIndex)
	assert.Equal(t, 0, *item.ContainerIndex)
	assert.Equal(t, "urn:d", item.Container)
	assert.Equal(t, ClassFileEntity, doc.Entities[0].Type)
	assert.Equal(t, "in.csv", doc.Entities[0].FilePath)

	assert.Equal(t, []Relation{
		{Type: RelationInformedBy, Subject: "urn:e3", Object: "urn:e2"},
		{Type: RelationDerivedFrom, Subject: "urn:d", Object: "urn:f1"},
		{Type: RelationDerivedFrom, Subject: "urn:d0", Object: "urn:d"},
		{Type: RelationDerivedFrom, Subject: "urn:r", Object: "urn:d0"},
	}, doc.Relations)
}

func TestSerialize_Deterministic(t *testing.T) {
	a, err := Serialize(fixedLog())
	require.NoError(t, err)
	b, err := Serialize(fixedLog())
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestSerialize_Validation(t *testing.T) {
	cases := map[string]func(*core.Log){
		"missing agent": func(l *core.Log) { l.Agent.ID = "" },
		"missing hash":  func(l *core.Log) { l.DataObjects[0].Hash = "" },
		"missing path":  func(l *core.Log) { l.Files[0].Path = "" },
		"missing order": func(l *core.Log) { l.Executions[1].Order = 0 },
		"duplicate order": func(l *core.Log) {
			l.Executions[1].Order = 1
		},
		"undefined usage": func(l *core.Log) {
			l.Executions[0].Usages[0].Entity.ID = "urn:nowhere"
		},
		"wrong kind": func(l *core.Log) {
			l.Executions[0].Usages[0].Entity.Kind = core.KindDataObject
		},
		"shared identifier": func(l *core.Log) {
			l.Files[0].ID = l.DataObjects[0].ID
		},
		"dangling container": func(l *core.Log) {
			l.DataObjects[2].Parent = "urn:gone"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			log := fixedLog()
			mutate(&log)
			doc, err := Serialize(log)
			assert.Nil(t, doc)
			var recErr *core.RecordError
			require.ErrorAs(t, err, &recErr)
			assert.ErrorIs(t, err, core.ErrSerialization)
		})
	}
}
