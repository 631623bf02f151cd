package taski

import (
	"fmt"
	"reflect"
	"sync"
)

// Task is implemented by every user-defined task class. Identity is by
// reflect.Type of the concrete implementation (spec.md §3 "identity is by
// class object").
type Task interface {
	Run(ctx *RunCtx) error
}

// Cleaner is the optional symmetric teardown a task may implement
// (spec.md §6 "clean(): optional symmetric teardown").
type Cleaner interface {
	Clean(ctx *RunCtx) error
}

// slot is the common shape shared by Export[T] and Defined[T]: a named,
// typed value published by exactly one task type.
type slot struct {
	name  string
	owner reflect.Type
}

func (s *slot) Name() string         { return s.name }
func (s *slot) Owner() reflect.Type  { return s.owner }

// Export publishes a typed, named value from a task. Reading it from
// another task's Run/Clean (via Get) is the cross-task dependency edge
// spec.md §3 "DependencyEdge" describes. It generalizes the teacher's
// Controller[T]/Executor[T] pair into a single named accessor slot.
type Export[T any] struct {
	slot
}

// NewExport declares an export slot owned by the given task type. Task
// authors call this once, typically in an init or package-level var block,
// e.g.:
//
//	var leafValue = taski.NewExport[int](reflect.TypeOf(Leaf{}), "value")
func NewExport[T any](owner reflect.Type, name string) *Export[T] {
	return &Export[T]{slot{name: name, owner: owner}}
}

// Set publishes the value from inside the owning task's Run method.
func (e *Export[T]) Set(ctx *RunCtx, value T) {
	ctx.setExport(e.name, value)
}

// Get performs a lazy pull (spec.md §4.6 "need(dep_class)") of this
// export from another task. It suspends the calling fiber until the
// owner task reaches `completed`, or returns an error if the owner
// reaches `failed`/`skipped`.
func (e *Export[T]) Get(ctx *RunCtx) (T, error) {
	var zero T
	val, err := ctx.pull(e.owner, e.name)
	if err != nil {
		return zero, err
	}
	if ctx.discover != nil {
		return zero, nil // discovery pass: the recorded access yields a zero-value stub
	}
	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("export %s.%s: type assertion to %T failed (got %T)", typeName(e.owner), e.name, zero, val)
	}
	return typed, nil
}

// Defined is a lazily computed attribute (spec.md §4.3 "define"). The
// thunk is evaluated at most once per task instance, on first read, and
// may itself reference other tasks' exports.
type Defined[T any] struct {
	slot
	thunk func(*RunCtx) (T, error)
	deps  []depRef // discovered once, memoized; see define.go
	depMu sync.Once
}

// Define declares a define-API thunk owned by the given task type.
func Define[T any](owner reflect.Type, name string, thunk func(*RunCtx) (T, error)) *Defined[T] {
	return &Defined[T]{
		slot:  slot{name: name, owner: owner},
		thunk: thunk,
	}
}

// Get evaluates (and caches, in the task instance) the thunk's value. The
// thunk runs synchronously on the calling fiber's own goroutine, so any
// Get call it makes on another task's export suspends and resumes exactly
// like a direct call from Run would (RunCtx.pull) — a dependency the
// thunk's code path never reaches is never started.
func (d *Defined[T]) Get(ctx *RunCtx) (T, error) {
	var zero T
	val, err := ctx.pullDefined(d.owner, d.name, func(rc *RunCtx) (any, error) {
		return d.thunk(rc)
	})
	if err != nil {
		return zero, err
	}
	if ctx.discover != nil {
		return zero, nil // discovery pass: the recorded access yields a zero-value stub
	}
	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("define %s.%s: type assertion to %T failed (got %T)", typeName(d.owner), d.name, zero, val)
	}
	return typed, nil
}

// discoverDeps runs the re-entrant-free discovery pass described in
// SPEC_FULL.md §0 / DESIGN.md "Define-API evaluator" exactly once per
// Defined value, memoizing the result on the value itself (spec.md §4.1
// "result caching").
func (d *Defined[T]) discoverDeps(scope *ExecutionScope) []depRef {
	d.depMu.Do(func() {
		dc := newDiscoverCtx(scope)
		// Run the thunk once under discovery mode; every Export[*].Get
		// or Defined[*].Get call routes through dc.recordPull instead of
		// the real scheduler and returns a zero-value stub.
		rc := &RunCtx{scope: scope, discover: dc}
		_, _ = d.thunk(rc)
		d.deps = dc.pulls
	})
	return d.deps
}
