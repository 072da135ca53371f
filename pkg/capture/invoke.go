package capture

import (
	"fmt"
	"runtime"
)

// Invoke runs fn as a tracked call of t and records its single result.
// A panic inside fn is recorded as a failure and then re-raised.
//
// When the session cannot record (inactive or closed) fn still runs, untracked.
// An empty statement is replaced by the caller's file:line.
func Invoke[R any](s *Session, t *Tracked, args []Arg, statement string, fn func() (R, error)) (R, error) {
	if statement == "" {
		statement = callSite(2)
	}
	var result R
	err := s.track(t, args, statement, func() ([]any, error) {
		var err error
		result, err = fn()
		return []any{result}, err
	})
	return result, err
}

// Run is Invoke for functions without a data result. Declared file outputs
// are still recorded.
func Run(s *Session, t *Tracked, args []Arg, statement string, fn func() error) error {
	if statement == "" {
		statement = callSite(2)
	}
	return s.track(t, args, statement, func() ([]any, error) {
		return nil, fn()
	})
}

func (s *Session) track(t *Tracked, args []Arg, statement string, fn func() ([]any, error)) error {
	call, err := s.EnterCall(t, args, statement)
	if err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Debug("running untracked", "statement", statement, "error", err)
		}
		_, err = fn()
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = s.ExitCall(call, nil, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	outputs, err := fn()
	if err != nil {
		_ = s.ExitCall(call, nil, err)
		return err
	}
	if exitErr := s.ExitCall(call, outputs, nil); exitErr != nil {
		s.warn("execution not recorded", "statement", statement, "error", exitErr)
	}
	return nil
}

func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", file, line)
}
