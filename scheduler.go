package taski

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Scheduler drives one façade call's fiber set over the bounded worker
// pool (spec.md §4.6, §5). Adapted from the teacher's PoolManager +
// ParallelExecutor pairing in flow.go: the teacher spawns one goroutine
// per Derive call behind its pool and lets errgroup own cancellation;
// generalized here so a fiber's "suspend on a dependency" releases its
// pool slot before it blocks, and "resume" reacquires one, per spec.md §5.
//
// Run() is invoked unconditionally once a fiber is scheduled — there is no
// up-front "resolve every statically-known dependency first" pass. A
// dependency only ever starts when something actually calls Get() on it
// (RunCtx.pull, scope.go), which is also the only place a fiber suspends:
// it releases its pool slot, waits for the dependency to settle, reacquires
// a slot, and turns a settled Failed/Skipped owner into an error the
// caller's own Run method receives and may propagate or swallow (spec.md
// §4.6 need(), §7 "a task may recover from a failed dependency"). This
// keeps unreached conditional dependencies from ever running (spec.md §4.1
// point 5) and keeps a direct consumer of a failed dependency on the
// ordinary Run/Failed path instead of being pre-emptively skipped.
type Scheduler struct {
	scope *ExecutionScope
	pool  *pool
	eg    *errgroup.Group
	ctx   context.Context

	mu      sync.Mutex
	started map[reflect.Type]bool

	errs   *AggregateError
	errsMu sync.Mutex

	abortOnce sync.Once
	abortErr  *TaskAbortException
	cancel    context.CancelFunc
}

func newScheduler(ctx context.Context, scope *ExecutionScope, width int) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	eg, gctx := errgroup.WithContext(ctx)
	return &Scheduler{
		scope:   scope,
		pool:    newPool(width),
		eg:      eg,
		ctx:     gctx,
		started: make(map[reflect.Type]bool),
		errs:    newAggregateError(),
		cancel:  cancel,
	}
}

// ensureRun lazily starts a task's fiber on first reference and returns
// its record; callers await rec.done to observe completion. The first
// reference may come from the façade (the root task) or from another
// fiber's RunCtx.pull the moment it actually calls Get() on this task —
// never from a merely statically-possible edge.
func (s *Scheduler) ensureRun(t reflect.Type) *taskRecord {
	s.mu.Lock()
	rec := s.scope.registry.getOrCreate(t)
	if s.started[t] {
		s.mu.Unlock()
		return rec
	}
	s.started[t] = true
	if st := rec.snapshotState(); st == StateFailed || st == StateSkipped {
		// Failure and skip are not persisted across calls: replace the
		// settled record from an earlier call so this one runs t fresh.
		rec = newTaskRecord(t, rec.factory)
		s.scope.registry.mu.Lock()
		s.scope.registry.records[t] = rec
		s.scope.registry.mu.Unlock()
	}
	s.mu.Unlock()

	s.eg.Go(func() error {
		s.runOne(t, rec, PhaseRun)
		return nil
	})
	return rec
}

// ensureClean mirrors ensureRun for the teardown pass (spec.md §4.6). Clean
// has its own per-record start guard (cleanStartOnce) independent of the
// run pass's started set, since a clean-only invocation never calls
// ensureRun.
func (s *Scheduler) ensureClean(t reflect.Type) *taskRecord {
	rec := s.scope.registry.getOrCreate(t)

	rec.cleanStartOnce.Do(func() {
		s.eg.Go(func() error {
			s.runOne(t, rec, PhaseClean)
			return nil
		})
	})
	return rec
}

func (s *Scheduler) runOne(t reflect.Type, rec *taskRecord, phase Phase) {
	if phase == PhaseRun {
		s.runPhase(t, rec)
	} else {
		s.cleanPhase(t, rec)
	}
}

// runPhase brings one task's fiber from pending to a settled state. Any
// dependency it needs is started and awaited lazily, from inside Run,
// through RunCtx.pull — not here.
func (s *Scheduler) runPhase(t reflect.Type, rec *taskRecord) {
	rec.startOnce.Do(func() {
		if rec.snapshotState() == StateCompleted {
			return
		}

		if err := s.pool.acquire(s.ctx); err != nil {
			// The run was cancelled (abort, or the façade context itself)
			// before this fiber ever got to start: it never ran, so it is
			// reported skipped rather than failed (spec.md §5 "outstanding
			// fibers that cannot make progress are cancelled and report as
			// failed, or skipped if they had not yet started").
			s.fail(rec, t, PhaseRun, nil, StateSkipped)
			close(rec.done)
			return
		}

		rec.held = true
		rec.mu.Lock()
		rec.state = StateRunning
		rec.mu.Unlock()
		notify(s.scope, Event{Kind: EventTaskUpdated, Task: t, State: StateRunning, Phase: PhaseRun})

		task := rec.factory()
		pipe, perr := s.scope.output.pipeFor(qualifiedName(t))
		if perr != nil {
			rec.held = false
			s.pool.release()
			s.fail(rec, t, PhaseRun, perr, StateFailed)
			close(rec.done)
			return
		}
		rec.pipe = pipe

		rc := &RunCtx{scope: s.scope, record: rec, sched: s, slot: rec}

		runErr := s.invoke(func() error { return task.Run(rc) })
		// pull() may have released and reacquired this fiber's slot one or
		// more times while it suspended on a dependency; only release here
		// if it still holds one (a failed reacquire — run cancelled mid-
		// wait — already left it without one).
		if rec.held {
			rec.held = false
			s.pool.release()
		}

		if runErr != nil {
			s.fail(rec, t, PhaseRun, runErr, StateFailed)
		} else {
			rec.mu.Lock()
			rec.state = StateCompleted
			rec.mu.Unlock()
			notify(s.scope, Event{Kind: EventTaskUpdated, Task: t, State: StateCompleted, Phase: PhaseRun})
		}
		close(rec.done)
	})
	<-rec.done
}

// fail settles rec into state, recording cause (if any) as rec.runErr and
// feeding it into the scheduler's aggregate or abort slot. A cancellation-
// triggered StateSkipped (cause == nil) is reported but never aggregated:
// spec.md §4.6 "its clean is not invoked" treats a never-started task as
// absent from the run, not as one more failure.
func (s *Scheduler) fail(rec *taskRecord, t reflect.Type, phase Phase, cause error, state TaskState) {
	var abort *TaskAbortException
	isAbort := errors.As(cause, &abort)

	rec.mu.Lock()
	rec.state = state
	if cause != nil {
		if isAbort {
			abort.Task = t
			rec.runErr = newTaskError(t, phase, abort)
		} else {
			rec.runErr = newTaskErrorWithLog(t, phase, cause, rec.pipe)
		}
	}
	rec.mu.Unlock()

	switch {
	case isAbort:
		s.recordAbort(abort)
	case cause != nil:
		s.recordErr(rec.runErr)
	}

	notify(s.scope, Event{Kind: EventTaskUpdated, Task: t, State: state, Phase: phase, Err: cause})
}

// cleanPhase mirrors runPhase for the teardown pass. A task that never ran
// successfully — it sits StateSkipped, having been cancelled before it
// started — has its Clean method skipped too (spec.md §4.6, §8 property 5:
// "their clean is not invoked"); StatePending (Clean called without a
// matching Run in this process) and StateCompleted both proceed normally.
func (s *Scheduler) cleanPhase(t reflect.Type, rec *taskRecord) {
	deps := s.scope.graph.Dependents(t) // clean walks the reverse order: dependents first
	depRecs := make([]*taskRecord, 0, len(deps))
	for _, d := range deps {
		depRecs = append(depRecs, s.ensureClean(d))
	}
	for _, dr := range depRecs {
		<-dr.cleanDone
	}

	rec.mu.Lock()
	if rec.cleanState == CleanCompleted || rec.cleanState == CleanSkipped {
		rec.mu.Unlock()
		close(rec.cleanDone)
		return
	}
	if rec.state == StateSkipped {
		rec.cleanState = CleanSkipped
		rec.mu.Unlock()
		notify(s.scope, Event{Kind: EventTaskUpdated, Task: t, State: StateSkipped, Phase: PhaseClean})
		close(rec.cleanDone)
		return
	}
	rec.cleanState = CleanRunning
	rec.mu.Unlock()
	notify(s.scope, Event{Kind: EventTaskUpdated, Task: t, Phase: PhaseClean})

	cleaner, ok := rec.factory().(Cleaner)
	if !ok {
		rec.mu.Lock()
		rec.cleanState = CleanCompleted
		rec.mu.Unlock()
		close(rec.cleanDone)
		return
	}

	if err := s.pool.acquire(s.ctx); err != nil {
		rec.mu.Lock()
		rec.cleanState = CleanFailed
		rec.mu.Unlock()
		close(rec.cleanDone)
		return
	}
	rec.held = true
	defer func() {
		if rec.held {
			rec.held = false
			s.pool.release()
		}
	}()

	pipe, perr := s.scope.output.pipeFor(qualifiedName(t) + "#clean")
	rc := &RunCtx{scope: s.scope, record: rec, sched: s, slot: rec}
	if perr == nil {
		rec.pipe = pipe
	}

	cleanErr := s.invoke(func() error { return cleaner.Clean(rc) })

	rec.mu.Lock()
	if cleanErr != nil {
		rec.cleanState = CleanFailed
		rec.cleanErr = newTaskErrorWithLog(t, PhaseClean, cleanErr, rec.pipe)
	} else {
		rec.cleanState = CleanCompleted
	}
	rec.mu.Unlock()

	if cleanErr != nil {
		s.recordErr(rec.cleanErr)
	}
	notify(s.scope, Event{Kind: EventTaskUpdated, Task: t, Phase: PhaseClean, Err: cleanErr})
	close(rec.cleanDone)
}

// invoke runs fn and converts a panic into an error, matching the
// teacher's flow.go recover-and-wrap behavior around user-supplied Derive
// functions.
func (s *Scheduler) invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{Cause: recoverToErr(r)}
		}
	}()
	return fn()
}

func (s *Scheduler) recordErr(te *TaskError) {
	s.errsMu.Lock()
	defer s.errsMu.Unlock()
	s.errs.add(te)
}

func (s *Scheduler) recordAbort(a *TaskAbortException) {
	s.abortOnce.Do(func() {
		s.abortErr = a
		s.cancel()
	})
}

// Wait blocks until every spawned fiber has returned, then reports the
// settled outcome: an abort takes priority over the aggregate (spec.md §8
// property 9), otherwise the aggregate is returned if non-empty.
func (s *Scheduler) Wait() error {
	_ = s.eg.Wait()
	if s.abortErr != nil {
		return s.abortErr
	}
	return s.errs.ErrorOrNil()
}
