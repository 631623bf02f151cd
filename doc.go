// Package taski is a task-graph execution engine: tasks declare static
// exports and lazily defined attributes, the engine resolves their
// dependency graph from source, and a bounded worker pool runs the
// independent parts concurrently.
//
// # Overview
//
// Three things make up a task:
//
//  1. A Task implementation: a Run(ctx *RunCtx) error method, and
//     optionally a Clean(ctx *RunCtx) error method for teardown.
//  2. Export[T] slots: values the task publishes under a name, readable
//     from any other task once the owner completes.
//  3. Defined[T] slots: lazily computed attributes, evaluated at most
//     once per task instance on first read.
//
// # Basic Usage
//
//	type Leaf struct{}
//
//	var leafType = taski.Register[Leaf]()
//	var leafValue = taski.NewExport[int](reflect.TypeOf(Leaf{}), "value")
//
//	func (Leaf) Run(ctx *taski.RunCtx) error {
//	    leafValue.Set(ctx, 42)
//	    return nil
//	}
//
//	type Root struct{}
//
//	var rootType = taski.Register[Root]()
//
//	func (Root) Run(ctx *taski.RunCtx) error {
//	    v, err := leafValue.Get(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    ctx.Message(fmt.Sprintf("leaf produced %d", v))
//	    return nil
//	}
//
//	err := taski.Run(context.Background(), rootType)
//
// Run resolves rootType's dependency graph with the static analyzer
// (parsing Run/Clean for Export/Defined reads), fails up front on a cycle,
// and otherwise starts rootType on a bounded worker pool. A dependency
// starts only when a running task first calls Get on one of its slots.
//
// # Dependency graph
//
// A task's dependencies are never declared by hand: the engine finds them
// by reading the task's own source. This means references inside an
// unreached branch or dead code still count — the analyzer does not try
// to prove a branch unreachable, and conservatively over-collects rather
// than under-collects.
//
// # Registry persistence
//
// The registry is process-local. A task that completes successfully stays
// completed for the life of the process; an independent later Run call
// will not re-execute it. Reset drops that memory for one task type.
// Failure and skip are never persisted this way — a later call retries
// fresh.
//
// # Output capture
//
// Each running task gets its own RunCtx.Stdout()/Stderr() writer, backed
// by a real os.Pipe so that a genuine subprocess spawned via RunCtx.Shell
// lands in the same capture as the task's own direct writes.
//
// # Errors
//
// A single task failure is wrapped in a TaskError and, unless the task
// raised a TaskAbortException (which always takes priority and never
// aggregates), collected into an AggregateError alongside every other
// failure from the same run. Because AggregateError implements
// Unwrap() []error, errors.As and errors.Is match straight through it —
// a caller never needs to know whether a single task failed or many did.
//
// # Observers
//
// An Observer receives six progress events: on_ready, on_start, on_stop,
// on_task_updated, on_group_started and on_group_completed. BaseObserver
// gives a no-op default to embed. The extensions subpackage ships a
// slog-backed LoggingObserver and a GraphDebugObserver that logs the names
// of whichever tasks failed; it does not render the dependency tree.
package taski
