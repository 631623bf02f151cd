package taski

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// CircularDependencyError is raised from the façade before any user Run
// method executes. It carries the cycle as an ordered sequence of task
// types, e.g. [A, B, A].
type CircularDependencyError struct {
	Cycle []reflect.Type
}

func (e *CircularDependencyError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, t := range e.Cycle {
		names[i] = typeName(t)
	}
	return fmt.Sprintf("circular dependency: %s", strings.Join(names, " -> "))
}

// TaskError wraps whatever a task's Run or Clean method returned, tagging
// it with the task type and the phase it failed during.
type TaskError struct {
	Task    reflect.Type
	Phase   Phase
	Cause   error
	Stack   []byte
	LastLog []string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed during %s: %v", typeName(e.Task), e.Phase, e.Cause)
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// newTaskError wraps cause in a TaskError for task and phase, capturing the
// current goroutine's stack. Because TaskError.Unwrap exposes Cause to the
// standard errors chain, a caller can match either the TaskError itself or
// the underlying user error kind.
func newTaskError(task reflect.Type, phase Phase, cause error) *TaskError {
	return &TaskError{
		Task:  task,
		Phase: phase,
		Cause: cause,
		Stack: debug.Stack(),
	}
}

// newTaskErrorWithLog is newTaskError plus the failing task's last captured
// output lines (spec.md §7 "a failure report includes... the last K
// captured output lines"), pulled from its taskPipe's ring buffer. pipe is
// nil-guarded since a task can fail before its pipe is ever attached (e.g.
// pipeFor itself erroring).
func newTaskErrorWithLog(task reflect.Type, phase Phase, cause error, pipe *taskPipe) *TaskError {
	te := newTaskError(task, phase, cause)
	if pipe != nil {
		te.LastLog = pipe.Tail()
	}
	return te
}

// Phase distinguishes the run phase from the clean phase for error
// reporting and observer events.
type Phase string

const (
	PhaseRun   Phase = "run"
	PhaseClean Phase = "clean"
)

// AggregateError collects every TaskError produced during one façade call.
// It wraps hashicorp/go-multierror for accumulation/formatting and layers
// Unwrap() []error on top so errors.As/errors.Is transparently match a
// single wrapped TaskError kind against the aggregate as a whole — this is
// the Go-native realization of spec.md §4.8's "transparent matching"
// requirement (Ruby's `rescue TaskClassError => e` becomes
// `errors.As(err, &wantErr)` here).
type AggregateError struct {
	merr *multierror.Error
	seen map[string]bool
}

func newAggregateError() *AggregateError {
	return &AggregateError{
		merr: &multierror.Error{},
		seen: make(map[string]bool),
	}
}

// add appends a task error, de-duplicating on the same underlying cause
// reached through multiple propagation paths (spec.md §8 property 7).
func (a *AggregateError) add(te *TaskError) {
	key := fmt.Sprintf("%s:%s:%v", typeName(te.Task), te.Phase, te.Cause)
	if a.seen[key] {
		return
	}
	a.seen[key] = true
	a.merr.Errors = append(a.merr.Errors, te)
}

func (a *AggregateError) empty() bool {
	return len(a.merr.Errors) == 0
}

// ErrorOrNil returns nil if no errors were collected, otherwise itself.
func (a *AggregateError) ErrorOrNil() error {
	if a.empty() {
		return nil
	}
	return a
}

func (a *AggregateError) Error() string {
	return a.merr.Error()
}

// Unwrap exposes every collected error to the standard errors.Is/As
// machinery (Go 1.20+ multi-error unwrapping).
func (a *AggregateError) Unwrap() []error {
	out := make([]error, len(a.merr.Errors))
	for i, e := range a.merr.Errors {
		out[i] = e
	}
	return out
}

// Contains reports whether the aggregate holds at least one error matching
// the given predicate.
func (a *AggregateError) Contains(pred func(error) bool) bool {
	for _, e := range a.merr.Errors {
		if pred(e) {
			return true
		}
	}
	return false
}

// Find returns the first error matching the predicate, or nil.
func (a *AggregateError) Find(pred func(error) bool) error {
	for _, e := range a.merr.Errors {
		if pred(e) {
			return e
		}
	}
	return nil
}

// ContainsTask reports whether any collected error belongs to the given
// task type.
func (a *AggregateError) ContainsTask(task reflect.Type) bool {
	return a.Contains(func(err error) bool {
		var te *TaskError
		if errors.As(err, &te) {
			return te.Task == task
		}
		return false
	})
}

// TaskAbortException is a user-initiated abort. It never aggregates and
// always takes priority over ordinary task failures (spec.md §4.8, §8
// property 9): once observed, the façade raises it alone even if ordinary
// errors also occurred before settle.
type TaskAbortException struct {
	Task   reflect.Type
	Reason error
}

func (e *TaskAbortException) Error() string {
	if e.Task != nil {
		return fmt.Sprintf("aborted by task %s: %v", typeName(e.Task), e.Reason)
	}
	return fmt.Sprintf("aborted: %v", e.Reason)
}

func (e *TaskAbortException) Unwrap() error {
	return e.Reason
}

// IsAbort reports whether err is, or wraps, a TaskAbortException.
func IsAbort(err error) bool {
	var abort *TaskAbortException
	return errors.As(err, &abort)
}

// recoverToErr normalizes a recover() value into an error, matching the
// teacher's flow.go panic-wrapping around user callbacks.
func recoverToErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		return "*" + t.Elem().Name()
	}
	return t.Name()
}
