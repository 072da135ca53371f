package capture

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/aretw0/trail/pkg/core"
	"github.com/aretw0/trail/pkg/identity"
)

var (
	errAbandoned     = errors.New("call abandoned: an enclosing call exited first")
	errSessionClosed = errors.New("call abandoned: session closed")
)

// Call is the token for a tracked call in flight.
// A nil *Call stands for a call made while the session was inactive.
type Call struct {
	exec        core.FunctionExecution
	fileOutputs []Arg
	done        bool

	// used lists distinct entities consumed; fromChildren the entities
	// generated by direct child calls.
	used         []core.EntityRef
	fromChildren []core.EntityRef
}

// Order returns the executionOrder assigned to the call.
func (c *Call) Order() int {
	if c == nil {
		return 0
	}
	return c.exec.Order
}

// EnterCall starts recording a call of t. Inputs and file inputs are resolved
// now, before the function body can mutate them. The call is assigned the
// next executionOrder.
//
// While the session is inactive EnterCall returns a nil Call and no error.
func (s *Session) EnterCall(t *Tracked, args []Arg, statement string) (*Call, error) {
	switch s.state {
	case StateInactive:
		return nil, nil
	case StateClosed:
		return nil, ErrClosed(s.config.SessionID)
	}
	if t == nil {
		return nil, &core.ConfigError{Function: "<nil>", Reason: "function not registered"}
	}

	s.order++
	call := &Call{
		exec: core.FunctionExecution{
			ID:            core.ExecutionURN(s.config.SessionID, s.order),
			Order:         s.order,
			Function:      t.Function,
			CodeStatement: statement,
			StartedAt:     s.now(),
		},
	}
	if len(s.stack) > 0 {
		call.exec.CallerOrder = s.stack[len(s.stack)-1].exec.Order
	}

	for _, arg := range args {
		switch t.spec.kindOf(arg.Name) {
		case argInput:
			for _, u := range s.resolveInput(arg) {
				s.use(call, u)
			}
		case argFileInput:
			file, err := s.resolveFileArg(arg)
			if err != nil {
				s.warn("file input not recorded", "function", t.Function.QualifiedName(), "arg", arg.Name, "error", err)
				continue
			}
			s.use(call, core.Usage{Role: arg.Name, Entity: s.addFile(file)})
		case argFileOutput:
			call.fileOutputs = append(call.fileOutputs, arg)
		default:
			call.exec.Parameters = append(call.exec.Parameters, core.NameValuePair{
				Name:  arg.Name,
				Value: identity.Literal(arg.Value),
			})
		}
	}

	s.stack = append(s.stack, call)
	return call, nil
}

// ExitCall finishes a call started by EnterCall. outputs are the values the
// function returned; callErr is the error it failed with, if any.
//
// Calls entered after call and not yet exited are unwound first and recorded
// as failed.
func (s *Session) ExitCall(call *Call, outputs []any, callErr error) error {
	if call == nil {
		return nil
	}
	if call.done {
		if s.state == StateClosed {
			return ErrClosed(s.config.SessionID)
		}
		return fmt.Errorf("%w: execution %d already finished", core.ErrUnbalancedExit, call.exec.Order)
	}

	idx := slices.Index(s.stack, call)
	if idx < 0 {
		return fmt.Errorf("%w: execution %d is not in flight", core.ErrUnbalancedExit, call.exec.Order)
	}
	for len(s.stack)-1 > idx {
		top := s.stack[len(s.stack)-1]
		s.warn("unwinding abandoned call", "order", top.exec.Order, "function", top.exec.Function.QualifiedName())
		s.finish(top, nil, errAbandoned)
	}
	s.finish(call, outputs, callErr)
	return nil
}

// finish pops call, which must be on top of the stack, and appends its execution.
func (s *Session) finish(call *Call, outputs []any, callErr error) {
	s.stack = s.stack[:len(s.stack)-1]
	call.done = true

	exec := call.exec
	exec.EndedAt = s.now()

	if callErr != nil {
		exec.Outcome = core.OutcomeFailed
		exec.Error = callErr.Error()
		if s.config.FailurePolicy == DropFailed {
			s.warn("dropping failed execution",
				"order", exec.Order,
				"function", exec.Function.QualifiedName(),
				"error", callErr,
			)
			return
		}
		s.append(exec)
		return
	}

	exec.Outcome = core.OutcomeSuccess

	for i, out := range outputs {
		role := "return"
		if len(outputs) > 1 {
			role = fmt.Sprintf("return[%d]", i)
		}
		ref := s.resolveValue(out)
		if s.generates(ref) {
			exec.Generations = append(exec.Generations, core.Generation{Role: role, Entity: ref})
		}
	}
	for _, arg := range call.fileOutputs {
		file, err := s.resolveFileArg(arg)
		if err != nil {
			s.warn("file output not recorded", "function", exec.Function.QualifiedName(), "arg", arg.Name, "error", err)
			continue
		}
		ref := s.addFile(file)
		if s.generates(ref) {
			exec.Generations = append(exec.Generations, core.Generation{Role: arg.Name, Entity: ref})
		}
	}

	for _, g := range exec.Generations {
		for _, u := range call.used {
			s.addDerivation(g.Entity, u, nil)
		}
		for _, c := range call.fromChildren {
			s.addDerivation(g.Entity, c, nil)
		}
	}

	if len(s.stack) > 0 {
		parent := s.stack[len(s.stack)-1]
		for _, g := range exec.Generations {
			parent.fromChildren = append(parent.fromChildren, g.Entity)
		}
	}
	s.append(exec)
}

func (s *Session) append(exec core.FunctionExecution) {
	s.executions = append(s.executions, exec)
	if s.config.Logger != nil {
		s.config.Logger.Debug("execution recorded",
			"order", exec.Order,
			"function", exec.Function.QualifiedName(),
			"outcome", exec.Outcome,
			"usages", len(exec.Usages),
			"generations", len(exec.Generations),
		)
	}
}

// Derive records that child was reached from parent through acc, outside of
// any tracked call. It is a no-op while the session is inactive.
func (s *Session) Derive(parent any, acc core.Accessor, child any) (core.DataObjectEntity, error) {
	switch s.state {
	case StateInactive:
		return core.DataObjectEntity{}, nil
	case StateClosed:
		return core.DataObjectEntity{}, ErrClosed(s.config.SessionID)
	}
	ent, _ := s.resolveEntity(Access{Parent: parent, Accessor: acc, Value: child})
	return ent, nil
}

// generates reports whether an output entity is recorded as generated. An
// entity some call already used is not: the generation would come after the
// usage and close a cycle through it.
func (s *Session) generates(ref core.EntityRef) bool {
	_, used := s.usedRefs[ref]
	return !used
}

func (s *Session) use(c *Call, u core.Usage) {
	c.exec.Usages = append(c.exec.Usages, u)
	if !slices.Contains(c.used, u.Entity) {
		c.used = append(c.used, u.Entity)
	}
	s.usedRefs[u.Entity] = struct{}{}
}

func (s *Session) resolveInput(arg Arg) []core.Usage {
	if many, ok := arg.Value.(Many); ok {
		usages := make([]core.Usage, 0, len(many))
		for i, v := range many {
			ref := s.resolveValue(v)
			usages = append(usages, core.Usage{Role: fmt.Sprintf("%s[%d]", arg.Name, i), Entity: ref})
		}
		return usages
	}
	ref := s.resolveValue(arg.Value)
	return []core.Usage{{Role: arg.Name, Entity: ref}}
}

// resolveValue resolves v and adds it to the log.
func (s *Session) resolveValue(v any) core.EntityRef {
	ent, _ := s.resolveEntity(v)
	return ent.Ref()
}

func (s *Session) resolveEntity(v any) (core.DataObjectEntity, bool) {
	acc, ok := v.(Access)
	if !ok {
		ent := s.resolver.Resolve(v)
		return ent, s.addObject(ent)
	}

	parent, _ := s.resolveEntity(acc.Parent)
	child := s.resolver.ResolveDerived(acc.Value, parent, acc.Accessor)
	isNew := s.addObject(child)
	a := acc.Accessor
	s.addDerivation(child.Ref(), parent.Ref(), &a)
	return child, isNew
}

func (s *Session) resolveFileArg(arg Arg) (core.FileEntity, error) {
	path, err := pathOf(arg.Value)
	if err != nil {
		return core.FileEntity{}, err
	}
	return s.resolver.ResolveFile(path)
}

func (s *Session) addObject(ent core.DataObjectEntity) bool {
	if _, ok := s.objects[ent.ID]; ok {
		return false
	}
	s.objects[ent.ID] = len(s.objectList)
	s.objectList = append(s.objectList, ent)
	return true
}

func (s *Session) addFile(file core.FileEntity) core.EntityRef {
	if _, ok := s.files[file.ID]; !ok {
		s.files[file.ID] = len(s.fileList)
		s.fileList = append(s.fileList, file)
	}
	return file.Ref()
}

func (s *Session) addDerivation(child, parent core.EntityRef, acc *core.Accessor) {
	if child == parent {
		return
	}
	key := string(child.Kind) + "\x00" + child.ID + "\x00" + parent.ID
	if acc != nil {
		key += "\x00" + acc.String()
	}
	if _, ok := s.derived[key]; ok {
		return
	}
	s.derived[key] = struct{}{}
	s.derivations = append(s.derivations, core.Derivation{Child: child, Parent: parent, Accessor: acc})
}

func sortExecutions(execs []core.FunctionExecution) {
	sort.Slice(execs, func(i, j int) bool { return execs[i].Order < execs[j].Order })
}
