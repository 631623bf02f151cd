package taski

import "reflect"

// depRef is a discovered (class, symbol) dependency pair, the unit the
// re-entrant protocol in spec.md §4.3 collects.
type depRef struct {
	task reflect.Type
	name string
}

// discoverCtx records every cross-task access a define thunk makes during
// a one-shot discovery pass, per the design-note option (b) redesign
// documented in DESIGN.md ("Define-API evaluator"): rather than the
// source's repeat-until-clean, exception-driven loop, the thunk runs once
// with every pull short-circuited to a recorded zero-value stub.
type discoverCtx struct {
	scope *ExecutionScope
	pulls []depRef
	seen  map[depRef]bool
}

func newDiscoverCtx(scope *ExecutionScope) *discoverCtx {
	return &discoverCtx{
		scope: scope,
		seen:  make(map[depRef]bool),
	}
}

// recordPull records a dependency access, once per (task, name) pair; the
// caller then hands back a zero-value stub instead of performing a real
// pull.
func (dc *discoverCtx) recordPull(task reflect.Type, name string) {
	ref := depRef{task: task, name: name}
	if dc.seen[ref] {
		return
	}
	dc.seen[ref] = true
	dc.pulls = append(dc.pulls, ref)
}
