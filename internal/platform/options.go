package platform

import (
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/adapters/fs"
	"github.com/aretw0/trail/pkg/capture"
	"github.com/aretw0/trail/pkg/identity"
)

// options holds the internal configuration shared by sessions and stores.
type options struct {
	logger        *slog.Logger
	fsys          afero.Fs
	sessionID     string
	failurePolicy capture.FailurePolicy
	fileHashMode  identity.FileHashMode
	builtin       []string
	versioning    *bool
	clock         func() time.Time

	strict       bool
	errorHandler func(error)
	serializers  map[string]fs.Serializer
}

// Option defines a functional option for configuring Trail.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		failurePolicy: capture.RecordFailed,
		fileHashMode:  identity.HashContent,
		serializers:   make(map[string]fs.Serializer),
	}
}

func apply(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. A nil logger keeps everything silent.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithFS sets the filesystem used for file hashing, saving runs and
// writing exports. Defaults to the OS filesystem.
func WithFS(fsys afero.Fs) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(o *options) {
		o.sessionID = id
	}
}

// WithFailurePolicy decides whether failed calls are recorded or dropped.
func WithFailurePolicy(policy capture.FailurePolicy) Option {
	return func(o *options) {
		o.failurePolicy = policy
	}
}

// WithFileHashMode selects content or attribute hashing for file entities.
func WithFileHashMode(mode identity.FileHashMode) Option {
	return func(o *options) {
		o.fileHashMode = mode
	}
}

// WithBuiltinHashPackages lists packages whose values are identified by
// identity instead of content.
func WithBuiltinHashPackages(pkgs ...string) Option {
	return func(o *options) {
		o.builtin = append(o.builtin, pkgs...)
	}
}

// WithVersioning enables or disables stamping the script agent with the
// git HEAD of the repository holding the script.
// By default, versioning is enabled on the OS filesystem and disabled on
// any other filesystem.
func WithVersioning(enabled bool) Option {
	return func(o *options) {
		o.versioning = &enabled
	}
}

// WithClock replaces time.Now for execution timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithStrict enables strict mode for the JSON serializers: documents with
// unknown fields are rejected instead of silently trimmed.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithWatcherErrorHandler registers a callback for errors raised inside the
// watch loop, which are otherwise only logged.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithSerializer registers a serializer for a file suffix, replacing the
// default one if the suffix is already known.
func WithSerializer(ext string, s fs.Serializer) Option {
	return func(o *options) {
		o.serializers[ext] = s
	}
}
