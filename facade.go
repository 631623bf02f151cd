package taski

import (
	"context"
	"fmt"
	"reflect"
)

// RunOpt configures a façade call. Most callers only need WithArgs/
// WithWidth/WithObservers (re-exported from scope.go's ScopeOption).
type RunOpt = ScopeOption

// buildGraph resolves root's static dependency closure via the analyzer
// (C2) and returns it along with a cycle error if one was found (spec.md
// §4.2's up-front cycle check, performed before any task executes).
func buildGraph(root reflect.Type) (*DependencyGraph, error) {
	graph := newDependencyGraph(root)
	if err := analyze(root, graph); err != nil {
		return nil, err
	}
	if cycle := graph.detectCycle(); cycle != nil {
		return nil, &CircularDependencyError{Cycle: cycle}
	}
	return graph, nil
}

// Run executes root (spec.md §4.6 "run"); a dependency in root's static
// closure runs only when a running task actually calls Get on one of its
// slots. It honors registry-level completion persistence (spec.md §2 C1):
// a task already StateCompleted from an earlier Run in this process is
// not re-executed.
func Run(ctx context.Context, root reflect.Type, opts ...RunOpt) error {
	graph, err := buildGraph(root)
	if err != nil {
		return err
	}

	scope := newExecutionScope(globalRegistry, graph, opts...)
	scope.scheduler = newScheduler(ctx, scope, scope.width)

	notifyReady(scope)
	notifyStart(scope)

	scope.scheduler.ensureRun(root)
	err = scope.scheduler.Wait()
	scope.output.closeAll()

	notifyStop(scope, err)
	return err
}

// Clean tears down root and its dependencies in reverse topological order,
// each task's dependents before the task itself (spec.md §4.6 "clean"),
// independent of whether Run was ever called in this process.
func Clean(ctx context.Context, root reflect.Type, opts ...RunOpt) error {
	graph, err := buildGraph(root)
	if err != nil {
		return err
	}

	scope := newExecutionScope(globalRegistry, graph, opts...)
	scope.scheduler = newScheduler(ctx, scope, scope.width)

	notifyReady(scope)
	notifyStart(scope)

	for _, t := range graph.ReverseOrder() {
		scope.scheduler.ensureClean(t)
	}
	err = scope.scheduler.Wait()
	scope.output.closeAll()

	notifyStop(scope, err)
	return err
}

// RunAndClean runs root, then unconditionally cleans it afterward — even
// if Run failed — mirroring a finally-block teardown (spec.md §4.6).
func RunAndClean(ctx context.Context, root reflect.Type, opts ...RunOpt) error {
	runErr := Run(ctx, root, opts...)
	cleanErr := Clean(ctx, root, opts...)
	if runErr != nil {
		return runErr
	}
	return cleanErr
}

// Tree renders root's static dependency graph for diagnostics (spec.md
// §7), without running anything.
func Tree(root reflect.Type) (string, error) {
	graph, err := buildGraph(root)
	if err != nil {
		if cycle, ok := err.(*CircularDependencyError); ok {
			return "", fmt.Errorf("tree: %w", cycle)
		}
		return "", err
	}
	return graph.Tree(), nil
}

// Tree renders a DependencyGraph for display, delegating to the
// treedrawer-backed renderTree helper in tree.go.
func (g *DependencyGraph) Tree() string {
	return renderTree(g, g.root)
}
