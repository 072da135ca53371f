package platform

import (
	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/adapters/fs"
	"github.com/aretw0/trail/pkg/capture"
	"github.com/aretw0/trail/pkg/git"
	"github.com/aretw0/trail/pkg/identity"
)

// NewSession creates an inactive capture session.
//
//	s := trail.New(trail.WithLogger(logger))
//	s.Activate("main.go")
func NewSession(opts ...Option) *capture.Session {
	o := apply(opts)
	return capture.NewSession(capture.Config{
		SessionID:     o.sessionID,
		FailurePolicy: o.failurePolicy,
		Logger:        o.logger,
		Clock:         o.clock,
		Versioner:     o.versioner(),
		Identity: identity.Config{
			FS:                  o.fsys,
			FileHashMode:        o.fileHashMode,
			Logger:              o.logger,
			BuiltinHashPackages: o.builtin,
		},
	})
}

// NewStore creates a provenance store. Serializers registered with
// WithSerializer are layered over the defaults.
func NewStore(opts ...Option) *fs.Store {
	return newStore(apply(opts))
}

func newStore(o *options) *fs.Store {
	serializers := fs.DefaultSerializers(o.strict)
	for ext, s := range o.serializers {
		serializers[ext] = s
	}
	return fs.NewStore(fs.Config{
		FS:           o.fsys,
		Logger:       o.logger,
		Strict:       o.strict,
		Serializers:  serializers,
		ErrorHandler: o.errorHandler,
	})
}

// versioner returns the script versioner or nil when versioning is off.
func (o *options) versioner() func(string) (string, error) {
	enabled := o.isOS()
	if o.versioning != nil {
		enabled = *o.versioning
	}
	if !enabled {
		return nil
	}
	return git.Versioner(o.logger)
}

func (o *options) isOS() bool {
	if o.fsys == nil {
		return true
	}
	_, ok := o.fsys.(*afero.OsFs)
	return ok
}

func (o *options) filesystem() afero.Fs {
	if o.fsys == nil {
		return afero.NewOsFs()
	}
	return o.fsys
}
