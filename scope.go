package taski

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/taski-go/taski/pkg/meta"
	"github.com/taski-go/taski/pkg/schema"
)

// DefaultWidth is the worker pool size a scope uses when none is given
// (spec.md §5 "W defaults to a small constant"). Adapted from the
// teacher's PoolManager default in pool_manager.go.
const DefaultWidth = 4

// ExecutionScope is one façade call's execution context: the spec.md §3
// "ExecutionScope" wrapping a view of the registry, the statically
// resolved dependency graph, the output router, the worker pool, and the
// attached observers. Mirrored from the teacher's Scope struct shape
// (scope.go: cache/tags/extensions/presets/cleanupRegistry/execTree/
// idCounter) but generalized to own a real Scheduler instead of a pure
// value cache, since Taski schedules side-effecting work instead of
// memoizing pure derivations.
type ExecutionScope struct {
	ID uuid.UUID

	registry  *Registry
	graph     *DependencyGraph
	output    *OutputRouter
	observers []Observer
	scheduler *Scheduler

	args map[string]any
	env  map[string]string

	width int
}

// ScopeOption configures an ExecutionScope at construction time, mirrored
// from the teacher's functional-option Scope constructors.
type ScopeOption func(*ExecutionScope)

// WithArgs attaches the untyped argument map a root task's RunCtx.Args
// exposes (spec.md §4.5 "args: an untyped key/value map passed at the
// root").
func WithArgs(args map[string]any) ScopeOption {
	return func(s *ExecutionScope) { s.args = args }
}

// WithEnv sets the environment map RunCtx.Env exposes; if omitted, Env
// returns an empty map. The process environment is not captured.
func WithEnv(env map[string]string) ScopeOption {
	return func(s *ExecutionScope) { s.env = env }
}

// WithWidth overrides the worker pool size (spec.md §5).
func WithWidth(width int) ScopeOption {
	return func(s *ExecutionScope) { s.width = width }
}

// WithObservers attaches progress observers (spec.md §4.9).
func WithObservers(obs ...Observer) ScopeOption {
	return func(s *ExecutionScope) { s.observers = append(s.observers, obs...) }
}

func newExecutionScope(registry *Registry, graph *DependencyGraph, opts ...ScopeOption) *ExecutionScope {
	s := &ExecutionScope{
		ID:       uuid.New(),
		registry: registry,
		graph:    graph,
		output:   newOutputRouter(),
		width:    DefaultWidth,
		args:     make(map[string]any),
		env:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tree renders the scope's dependency graph for spec.md §7's `tree`
// diagnostic, delegating layout to treedrawer the way the teacher's
// extensions/graph_debug.go does.
func (s *ExecutionScope) Tree(root reflect.Type) string {
	return renderTree(s.graph, root)
}

// Messages returns every out-of-band Taski.Message call recorded during
// this scope's execution (spec.md §4.4).
func (s *ExecutionScope) Messages() []string {
	return s.output.Messages()
}

// RunCtx is the per-task-invocation handle passed to Run/Clean, spec.md
// §4.5 "RunContext": args, env, captured I/O, grouped-output helper, and
// (indirectly, through Export[T]/Defined[T]) the dependency-pull surface.
// Mirrored from the teacher's ExecutionCtx/ResolveCtx pairing
// (context.go, flow.go), collapsed into one type since Taski has no
// separate read-only resolve phase.
type RunCtx struct {
	scope  *ExecutionScope
	record *taskRecord
	sched  *Scheduler

	// slot names the taskRecord whose pool slot the *currently executing
	// fiber* actually holds — set by runPhase/cleanPhase to the task being
	// run, and carried through unchanged into a Defined thunk's childCtx
	// (pullDefined), which otherwise rebinds record to the define's owner.
	// A nil slot means this RunCtx was built outside the scheduler's pool
	// protocol (as several tests do directly), so pull() skips the
	// release/reacquire dance entirely rather than touching a semaphore
	// permit it never held.
	slot *taskRecord

	// discover is non-nil only while a Defined[T] thunk is running under
	// discoverDeps's one-shot recording pass (define.go); every pull is
	// then short-circuited to a recorded zero-value stub instead of a
	// real scheduler wait.
	discover *discoverCtx
}

// Args returns the untyped argument map the root call was given.
func (rc *RunCtx) Args() map[string]any {
	return rc.scope.args
}

// Env returns the scope's environment map.
func (rc *RunCtx) Env() map[string]string {
	return rc.scope.env
}

// Stdout returns the writer a task's subprocess or direct writes should
// target; captured line-by-line by the scope's OutputRouter (spec.md
// §4.4).
func (rc *RunCtx) Stdout() io.Writer {
	if rc.record == nil || rc.record.pipe == nil {
		return io.Discard
	}
	return rc.record.pipe.stdout()
}

// Stderr mirrors Stdout for the error stream.
func (rc *RunCtx) Stderr() io.Writer {
	if rc.record == nil || rc.record.pipe == nil {
		return io.Discard
	}
	return rc.record.pipe.stderr()
}

// Message emits an out-of-band progress message (spec.md §4.4).
func (rc *RunCtx) Message(text string) {
	rc.scope.output.Message(text)
}

// Group runs fn under a named output group, emitting on_group_started /
// on_group_completed observer events around it (spec.md §4.9). Groups may
// nest; the task record's group stack tracks the innermost name, but
// captured output lines are stored without a group label.
func (rc *RunCtx) Group(name string, fn func() error) error {
	if rc.record == nil {
		return fn()
	}
	task := rc.record.typ
	rc.record.pushGroup(name)
	for _, obs := range rc.scope.observers {
		o := obs
		callObserver(func() { o.OnGroupStarted(rc.scope, task, name) })
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverToErr(r)
			}
		}()
		return fn()
	}()
	for _, obs := range rc.scope.observers {
		o := obs
		callObserver(func() { o.OnGroupCompleted(rc.scope, task, name) })
	}
	rc.record.popGroup()
	if err != nil {
		return fmt.Errorf("group %q: %w", name, err)
	}
	return nil
}

// Arg reads a single typed value out of ctx.Args(), converting it via
// reflection when the stored value isn't already of type T (pkg/meta,
// kept from the teacher's package largely as-is since it already does
// exactly the untyped-map-to-typed-value lookup Taski's args map needs).
func Arg[T any](ctx *RunCtx, key string) (T, error) {
	return meta.Get[T](ctx.Args(), key)
}

// ValidateArgs validates the scope's args map against sch, returning a
// ValidationError-wrapping error on mismatch (spec.md §4.5's optional
// schema-validated args, adapted from pkg/schema, the teacher's opt-in
// validation helper).
func (rc *RunCtx) ValidateArgs(sch schema.Schema) error {
	_, err := sch.Validate(rc.scope.args)
	return err
}

// setExport is Export[T].Set's backing call: it records a value under the
// calling task's own record, keyed by export name.
func (rc *RunCtx) setExport(name string, value any) {
	if rc.record == nil {
		return
	}
	rc.record.mu.Lock()
	rc.record.exports[name] = value
	rc.record.mu.Unlock()
}

// pull is the real need(dep_class) operation of spec.md §4.6: it starts
// owner's fiber the moment something actually calls Get() on it (never
// before), suspends the calling fiber for the wait — releasing its pool
// slot so the suspension is free, per spec.md §5 — and reacquires a slot
// before returning. A settled Failed or Skipped owner is turned into an
// error for the caller's own Run method to propagate or swallow; it is not
// a decision this function makes on the caller's behalf. See discoverCtx
// for the define-API discovery-mode short-circuit, which never reaches
// here at all.
func (rc *RunCtx) pull(owner reflect.Type, name string) (any, error) {
	if rc.discover != nil {
		rc.discover.recordPull(owner, name)
		return nil, nil
	}

	sched := rc.sched
	if sched == nil {
		sched = rc.scope.scheduler
	}
	ownerRec := sched.ensureRun(owner)

	// Suspend: give up this fiber's slot before blocking (spec.md §5 "a
	// suspended fiber holds no pool slot"), then block free of charge. A
	// nil slot means this RunCtx didn't come from the scheduler's pool
	// protocol in the first place (see RunCtx.slot), so there is no slot
	// to give up — just wait.
	holder := rc.slot
	if holder != nil {
		holder.held = false
		sched.pool.release()
	}
	<-ownerRec.done

	// Resume: reacquire before touching anything else. A failure here
	// means the run was cancelled while this fiber was suspended; it
	// leaves without a slot, and the caller (runPhase/cleanPhase) knows
	// not to release one it was never handed back.
	if holder != nil {
		if err := sched.pool.acquire(sched.ctx); err != nil {
			return nil, fmt.Errorf("pull %s.%s: %w", typeName(owner), name, err)
		}
		holder.held = true
	}

	switch ownerRec.snapshotState() {
	case StateFailed:
		return nil, ownerRec.runErr
	case StateSkipped:
		return nil, fmt.Errorf("pull %s.%s: dependency was never started (run cancelled)", typeName(owner), name)
	}

	ownerRec.mu.Lock()
	val, ok := ownerRec.exports[name]
	ownerRec.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pull %s.%s: export was never set", typeName(owner), name)
	}
	return val, nil
}

// pullDefined evaluates (once per task instance, memoized on owner's
// record) a define-API thunk and returns its cached value thereafter
// (spec.md §4.3 "memoized on first read").
func (rc *RunCtx) pullDefined(owner reflect.Type, name string, thunk func(*RunCtx) (any, error)) (any, error) {
	if rc.discover != nil {
		rc.discover.recordPull(owner, name)
		return nil, nil
	}

	ownerRec := rc.scope.registry.getOrCreate(owner)

	ownerRec.mu.Lock()
	once, ok := ownerRec.definedOnce[name]
	if !ok {
		once = new(sync.Once)
		ownerRec.definedOnce[name] = once
	}
	ownerRec.mu.Unlock()

	once.Do(func() {
		childCtx := &RunCtx{scope: rc.scope, record: ownerRec, sched: rc.sched, slot: rc.slot}
		val, err := thunk(childCtx)
		ownerRec.mu.Lock()
		ownerRec.definedVal[name] = val
		ownerRec.definedErr[name] = err
		ownerRec.mu.Unlock()
	})

	ownerRec.mu.Lock()
	val, err := ownerRec.definedVal[name], ownerRec.definedErr[name]
	ownerRec.mu.Unlock()
	return val, err
}
