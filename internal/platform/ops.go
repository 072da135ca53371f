package platform

import (
	"context"
	"fmt"

	"github.com/aretw0/trail/pkg/adapters/fs"
	"github.com/aretw0/trail/pkg/aggregate"
	"github.com/aretw0/trail/pkg/capture"
	"github.com/aretw0/trail/pkg/export"
	"github.com/aretw0/trail/pkg/graph"
	"github.com/aretw0/trail/pkg/prov"
)

// Init prepares the runs directory under root and returns a store for it.
func Init(root string, opts ...Option) (*fs.Store, error) {
	o := apply(opts)
	dir := RunsDir(root)
	if err := o.filesystem().MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	if o.logger != nil {
		o.logger.Debug("runs directory ready", "path", dir)
	}
	return newStore(o), nil
}

// Save serializes the closed log of s and writes it to path.
func Save(ctx context.Context, s *capture.Session, path string, opts ...Option) error {
	log, err := s.Log()
	if err != nil {
		return err
	}
	doc, err := prov.Serialize(log)
	if err != nil {
		return err
	}
	o := apply(opts)
	if err := newStore(o).Save(ctx, path, doc); err != nil {
		return err
	}
	if o.logger != nil {
		o.logger.Info("run saved",
			"session", log.SessionID,
			"path", path,
			"executions", len(doc.Executions),
			"entities", len(doc.Entities),
		)
	}
	return nil
}

// LoadGraph loads every provenance file matched by patterns into one graph.
func LoadGraph(ctx context.Context, store *fs.Store, gopts graph.Options, patterns ...string) (*graph.Graph, error) {
	files, docs, err := store.LoadAll(ctx, patterns...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no provenance files match %v", patterns)
	}
	sources := make([]graph.Source, len(files))
	for i := range files {
		sources[i] = graph.Source{File: files[i], Doc: docs[i]}
	}
	return graph.Load(ctx, sources, gopts)
}

// Summarize loads the matched files and aggregates the resulting graph.
func Summarize(ctx context.Context, store *fs.Store, gopts graph.Options, aopts aggregate.Options, patterns ...string) (*aggregate.Summary, error) {
	g, err := LoadGraph(ctx, store, gopts, patterns...)
	if err != nil {
		return nil, err
	}
	return aggregate.Aggregate(ctx, g, aopts)
}

// Export writes g to path in the format its extension selects.
func Export(path string, g *graph.Graph, eopts export.Options, opts ...Option) error {
	o := apply(opts)
	if err := export.WriteFile(o.filesystem(), path, g, eopts); err != nil {
		return err
	}
	if o.logger != nil {
		o.logger.Info("graph exported", "path", path, "nodes", g.NodeCount(), "edges", g.EdgeCount())
	}
	return nil
}
