package core

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrCaptureConfig      = errors.New("invalid capture configuration")
	ErrSessionInactive    = errors.New("capture session is not active")
	ErrSessionActive      = errors.New("capture session is still active")
	ErrSessionClosed      = errors.New("capture session is closed")
	ErrUnbalancedExit     = errors.New("call exited out of order")
	ErrSerialization      = errors.New("provenance serialization failed")
	ErrGraphLoad          = errors.New("provenance graph load failed")
	ErrUndefinedReference = errors.New("undefined identifier")
	ErrDisjointEntities   = errors.New("identifier used by both DataObjectEntity and FileEntity")
	ErrUnknownFormat      = errors.New("unknown file format")
)

// ConfigError reports an instrumented function whose declaration is unusable.
type ConfigError struct {
	Function string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCaptureConfig, e.Function, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrCaptureConfig }

// RecordError reports a log record missing a required field.
type RecordError struct {
	ID    string
	Field string
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: record is missing %s", ErrSerialization, e.Field)
	}
	return fmt.Sprintf("%s: %s is missing %s", ErrSerialization, e.ID, e.Field)
}

func (e *RecordError) Unwrap() error { return ErrSerialization }

// LoadError names the file and identifier that made a provenance document unloadable.
// Kind is ErrUndefinedReference or ErrDisjointEntities.
type LoadError struct {
	File string
	ID   string
	Kind error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrGraphLoad, e.Kind, e.ID)
	if e.File != "" {
		msg += " (in " + e.File + ")"
	}
	return msg
}

// Is lets errors.Is match both ErrGraphLoad and the specific kind.
func (e *LoadError) Is(target error) bool {
	return target == ErrGraphLoad || target == e.Kind
}

func (e *LoadError) Unwrap() error { return e.Kind }
