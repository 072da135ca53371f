package capture

import (
	"github.com/aretw0/introspection"
)

// SessionState exposes internal state for observability.
type SessionState struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Script        string `json:"script,omitempty"`
	FailurePolicy string `json:"failure_policy"`
	Executions    int    `json:"executions"`
	DataObjects   int    `json:"data_objects"`
	Files         int    `json:"files"`
	Derivations   int    `json:"derivations"`
	Depth         int    `json:"depth"`
	NextOrder     int    `json:"next_order"`
}

// State implements introspection.Introspectable.
func (s *Session) State() any {
	return SessionState{
		ID:            s.config.SessionID,
		State:         s.state.String(),
		Script:        s.agent.Path,
		FailurePolicy: string(s.config.FailurePolicy),
		Executions:    len(s.executions),
		DataObjects:   len(s.objectList),
		Files:         len(s.fileList),
		Derivations:   len(s.derivations),
		Depth:         len(s.stack),
		NextOrder:     s.order + 1,
	}
}

// ComponentType implements introspection.Component.
func (s *Session) ComponentType() string {
	return "capture_session"
}

var _ introspection.Introspectable = (*Session)(nil)
var _ introspection.Component = (*Session)(nil)
