package trail

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/aretw0/trail/internal/platform"
	"github.com/aretw0/trail/pkg/adapters/fs"
	"github.com/aretw0/trail/pkg/aggregate"
	"github.com/aretw0/trail/pkg/capture"
	"github.com/aretw0/trail/pkg/export"
	"github.com/aretw0/trail/pkg/graph"
	"github.com/aretw0/trail/pkg/identity"
)

// --- Types ---

// Session is a capture session handle.
type Session = capture.Session

// Store reads and writes provenance documents.
type Store = fs.Store

// Graph is a loaded provenance graph.
type Graph = graph.Graph

// Summary is the result of aggregating a graph.
type Summary = aggregate.Summary

// GraphOptions controls how provenance documents become a graph.
type GraphOptions = graph.Options

// AggregateOptions controls how nodes are grouped.
type AggregateOptions = aggregate.Options

// ExportOptions controls graph export.
type ExportOptions = export.Options

// FailurePolicy decides what happens to failed calls.
type FailurePolicy = capture.FailurePolicy

// FileHashMode selects how file entities are hashed.
type FileHashMode = identity.FileHashMode

const (
	RecordFailed = capture.RecordFailed
	DropFailed   = capture.DropFailed

	HashContent    = identity.HashContent
	HashAttributes = identity.HashAttributes
)

// --- Configuration ---

// Option defines a functional option for configuring Trail.
type Option = platform.Option

// WithLogger sets the logger. A nil logger keeps everything silent.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithFS sets the filesystem for file hashing, runs and exports.
func WithFS(fsys afero.Fs) Option {
	return platform.WithFS(fsys)
}

// WithSessionID fixes the session identifier.
func WithSessionID(id string) Option {
	return platform.WithSessionID(id)
}

// WithFailurePolicy decides whether failed calls are recorded or dropped.
func WithFailurePolicy(policy FailurePolicy) Option {
	return platform.WithFailurePolicy(policy)
}

// WithFileHashMode selects content or attribute hashing for files.
func WithFileHashMode(mode FileHashMode) Option {
	return platform.WithFileHashMode(mode)
}

// WithBuiltinHashPackages lists packages whose values are identified by reference.
func WithBuiltinHashPackages(pkgs ...string) Option {
	return platform.WithBuiltinHashPackages(pkgs...)
}

// WithVersioning enables or disables stamping scripts with their git HEAD.
func WithVersioning(enabled bool) Option {
	return platform.WithVersioning(enabled)
}

// WithClock replaces time.Now for execution timestamps.
func WithClock(clock func() time.Time) Option {
	return platform.WithClock(clock)
}

// WithStrict rejects JSON documents with unknown fields.
func WithStrict(strict bool) Option {
	return platform.WithStrict(strict)
}

// WithWatcherErrorHandler registers a callback for watch loop errors.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// WithSerializer registers a serializer for a file suffix.
func WithSerializer(ext string, s fs.Serializer) Option {
	return platform.WithSerializer(ext, s)
}

// --- Factory ---

// New creates an inactive capture session.
func New(opts ...Option) *Session {
	return platform.NewSession(opts...)
}

// NewStore creates a provenance store.
func NewStore(opts ...Option) *Store {
	return platform.NewStore(opts...)
}

// Init prepares the runs directory under root.
func Init(root string, opts ...Option) (*Store, error) {
	return platform.Init(root, opts...)
}

// --- Operations ---

// Save writes the log of a closed session to path.
func Save(ctx context.Context, s *Session, path string, opts ...Option) error {
	return platform.Save(ctx, s, path, opts...)
}

// Load reads every provenance file matched by patterns into one graph.
func Load(ctx context.Context, gopts GraphOptions, patterns []string, opts ...Option) (*Graph, error) {
	return platform.LoadGraph(ctx, platform.NewStore(opts...), gopts, patterns...)
}

// Aggregate groups structurally equivalent nodes of g.
func Aggregate(ctx context.Context, g *Graph, aopts AggregateOptions) (*Summary, error) {
	return aggregate.Aggregate(ctx, g, aopts)
}

// Export writes g to path as GEXF or GraphML, chosen by extension.
func Export(path string, g *Graph, eopts ExportOptions, opts ...Option) error {
	return platform.Export(path, g, eopts, opts...)
}

// --- Paths ---

// FindRoot looks upwards from startDir for a .trail directory, a .git
// directory or a go.mod file.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}

// RunsDir returns the directory runs are saved to under root.
func RunsDir(root string) string {
	return platform.RunsDir(root)
}

// RunPath returns the file a session's run is saved to.
func RunPath(root, sessionID, ext string) string {
	return platform.RunPath(root, sessionID, ext)
}
