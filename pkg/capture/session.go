// Package capture records function executions into a provenance log.
//
// A Session owns the log, the stack of tracked calls in flight and the
// Inactive, Active, Closed lifecycle. Instrumentation adapters call
// EnterCall before the wrapped function body and ExitCall after it, or use
// Invoke and Run, which do both.
//
// A Session is not safe for concurrent use. It is mutated only by the
// goroutine running the instrumented code; each goroutine or process that
// captures provenance must own its own Session.
package capture

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aretw0/trail/pkg/core"
	"github.com/aretw0/trail/pkg/identity"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateInactive State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FailurePolicy decides what happens to an execution whose function failed.
type FailurePolicy string

const (
	// RecordFailed keeps the execution and its usages, marked with outcome "failed".
	RecordFailed FailurePolicy = "record"
	// DropFailed omits the execution from the log.
	DropFailed FailurePolicy = "drop"
)

// Config holds the configuration for a Session.
type Config struct {
	SessionID     string
	FailurePolicy FailurePolicy
	Identity      identity.Config
	Logger        *slog.Logger
	Clock         func() time.Time

	// Versioner returns a version string for the script, such as a VCS revision.
	Versioner func(scriptPath string) (string, error)
}

// Session is an explicit capture session handle.
type Session struct {
	config   Config
	resolver *identity.Resolver
	state    State
	agent    core.ScriptAgent

	order      int
	stack      []*Call
	executions []core.FunctionExecution

	functions map[uintptr]core.Function

	objects     map[string]int
	objectList  []core.DataObjectEntity
	files       map[string]int
	fileList    []core.FileEntity
	derivations []core.Derivation
	derived     map[string]struct{}
	usedRefs    map[core.EntityRef]struct{}
}

// NewSession creates an inactive session. An empty SessionID gets a random one.
func NewSession(config Config) *Session {
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if config.FailurePolicy == "" {
		config.FailurePolicy = RecordFailed
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Identity.FS == nil {
		config.Identity.FS = afero.NewOsFs()
	}
	if config.Identity.Logger == nil {
		config.Identity.Logger = config.Logger
	}
	s := &Session{
		config:    config,
		resolver:  identity.NewResolver(config.Identity),
		functions: make(map[uintptr]core.Function),
	}
	s.clear()
	return s
}

func (s *Session) clear() {
	s.order = 0
	s.stack = nil
	s.executions = nil
	s.objects = make(map[string]int)
	s.objectList = nil
	s.files = make(map[string]int)
	s.fileList = nil
	s.derivations = nil
	s.derived = make(map[string]struct{})
	s.usedRefs = make(map[core.EntityRef]struct{})
	s.agent = core.ScriptAgent{}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.config.SessionID }

// Status returns the current lifecycle state.
func (s *Session) Status() State { return s.state }

// Resolver exposes the identity resolver used by the session.
func (s *Session) Resolver() *identity.Resolver { return s.resolver }

// Activate starts recording on behalf of the script at scriptPath.
// Activating an active session is a no-op; a closed session must be Reset first.
func (s *Session) Activate(scriptPath string) error {
	switch s.state {
	case StateActive:
		return nil
	case StateClosed:
		return ErrClosed(s.config.SessionID)
	}

	agent := core.ScriptAgent{Path: scriptPath, SessionID: s.config.SessionID}
	if scriptPath != "" {
		hash, err := identity.HashFile(s.config.Identity.FS, scriptPath)
		if err != nil {
			s.warn("script not hashable", "path", scriptPath, "error", err)
		}
		agent.Hash = hash
		if s.config.Versioner != nil {
			version, err := s.config.Versioner(scriptPath)
			if err != nil {
				s.warn("script version unavailable", "path", scriptPath, "error", err)
			}
			agent.Version = version
		}
	}
	agent.ID = core.ScriptURN(scriptPath, agent.Hash, s.config.SessionID)

	s.agent = agent
	s.state = StateActive
	if s.config.Logger != nil {
		s.config.Logger.Info("capture session activated", "session", s.config.SessionID, "script", scriptPath)
	}
	return nil
}

// Deactivate closes the session. Calls still in flight are unwound and
// recorded as failed. The log becomes read-only.
func (s *Session) Deactivate() error {
	switch s.state {
	case StateInactive:
		return ErrInactive(s.config.SessionID)
	case StateClosed:
		return nil
	}

	for len(s.stack) > 0 {
		s.finish(s.stack[len(s.stack)-1], nil, errSessionClosed)
	}
	s.state = StateClosed
	if s.config.Logger != nil {
		s.config.Logger.Info("capture session closed",
			"session", s.config.SessionID,
			"executions", len(s.executions),
		)
	}
	return nil
}

// Reset discards the log and returns the session to Inactive.
// Registered functions stay valid.
func (s *Session) Reset() {
	s.clear()
	s.state = StateInactive
}

// Log returns the finished log of a closed session.
func (s *Session) Log() (core.Log, error) {
	switch s.state {
	case StateInactive:
		return core.Log{}, ErrInactive(s.config.SessionID)
	case StateActive:
		return core.Log{}, fmt.Errorf("%w: %s", core.ErrSessionActive, s.config.SessionID)
	}
	return s.Snapshot(), nil
}

// Snapshot returns a copy of the log as recorded so far, in any state.
// Entities no execution or derivation refers to are left out.
func (s *Session) Snapshot() core.Log {
	referenced := make(map[string]struct{})
	functionSeen := make(map[string]struct{})
	var functions []core.Function

	executions := make([]core.FunctionExecution, len(s.executions))
	copy(executions, s.executions)
	sortExecutions(executions)

	for _, e := range executions {
		for _, u := range e.Usages {
			referenced[u.Entity.ID] = struct{}{}
		}
		for _, g := range e.Generations {
			referenced[g.Entity.ID] = struct{}{}
		}
		if _, ok := functionSeen[e.Function.ID()]; !ok {
			functionSeen[e.Function.ID()] = struct{}{}
			functions = append(functions, e.Function)
		}
	}
	for _, d := range s.derivations {
		referenced[d.Child.ID] = struct{}{}
		referenced[d.Parent.ID] = struct{}{}
	}

	log := core.Log{
		SessionID:   s.config.SessionID,
		Agent:       s.agent,
		Functions:   functions,
		Executions:  executions,
		Derivations: append([]core.Derivation(nil), s.derivations...),
	}
	for _, o := range s.objectList {
		if _, ok := referenced[o.ID]; ok {
			log.DataObjects = append(log.DataObjects, o)
		}
	}
	for _, f := range s.fileList {
		if _, ok := referenced[f.ID]; ok {
			log.Files = append(log.Files, f)
		}
	}
	return log
}

// Register declares fn as an instrumented function. The declaration is
// checked immediately so that configuration mistakes surface before any call.
func (s *Session) Register(fn any, spec Spec) (*Tracked, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, &core.ConfigError{Function: fmt.Sprintf("%T", fn), Reason: "not a function"}
	}

	function, ok := s.functions[rv.Pointer()]
	if !ok {
		var err error
		function, err = identity.FunctionOf(fn)
		if err != nil {
			return nil, &core.ConfigError{Function: fmt.Sprintf("%T", fn), Reason: err.Error()}
		}
		s.functions[rv.Pointer()] = function
	}
	if spec.Name != "" {
		function.Name = spec.Name
	}

	if err := spec.validate(function.QualifiedName()); err != nil {
		return nil, err
	}
	return &Tracked{Function: function, spec: spec.normalize()}, nil
}

func (s *Session) now() time.Time { return s.config.Clock() }

func (s *Session) warn(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}

// ErrInactive wraps core.ErrSessionInactive with the session ID.
func ErrInactive(id string) error { return fmt.Errorf("%w: %s", core.ErrSessionInactive, id) }

// ErrClosed wraps core.ErrSessionClosed with the session ID.
func ErrClosed(id string) error { return fmt.Errorf("%w: %s", core.ErrSessionClosed, id) }
