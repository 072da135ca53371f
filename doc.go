// Package trail is the composition root for Trail.
//
// Trail records the provenance of a Go program's data: which function
// produced which value from which inputs, and which files were read and
// written along the way. Runs are saved as provenance documents, loaded
// back as a directed multigraph and summarized by grouping structurally
// equivalent nodes.
//
// The pieces live in their own packages:
//
//   - pkg/identity: stable content identities for values and files.
//   - pkg/capture: the capture session and call recorder.
//   - pkg/prov: the provenance document model and log serializer.
//   - pkg/adapters/fs: codecs, atomic writes, globbing and file watching.
//   - pkg/graph: the provenance graph loader and its simplifications.
//   - pkg/aggregate: partition-refinement summarization.
//   - pkg/export: GEXF and GraphML writers.
//
// Usage:
//
//	s := trail.New(trail.WithLogger(logger))
//	loadFn, _ := s.Register(load, capture.Spec{Inputs: capture.NoInputs, FileInputs: []string{"path"}})
//	s.Activate("main.go")
//	data, err := capture.Invoke(s, loadFn, []capture.Arg{capture.A("path", "in.txt")}, "", func() ([]string, error) {
//		return load("in.txt")
//	})
//	s.Deactivate()
//	err = trail.Save(ctx, s, trail.RunPath(".", s.ID(), ".json"))
//
//	g, err := trail.Load(ctx, trail.GraphOptions{}, []string{".trail/runs/**/*"})
//	summary, err := trail.Aggregate(ctx, g, trail.AggregateOptions{})
//	err = trail.Export("summary.gexf", summary.Graph(), trail.ExportOptions{})
package trail
