package taski

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// pool is the bounded worker pool of spec.md §5 "Concurrency & Resource
// Model": at most W task fibers may be actively running at once. Adapted
// from the teacher's PoolManager (pool_manager.go), which bounds concurrent
// Flow executions with the same acquire/release-around-a-context shape;
// generalized here from a fixed-purpose executor pool to the general
// task-fiber scheduler's run slots, and backed by
// golang.org/x/sync/semaphore.Weighted instead of a teacher-authored
// channel semaphore since the weighted variant gives us a context-aware,
// cancelable Acquire for free.
type pool struct {
	sem *semaphore.Weighted
	w   int64
}

func newPool(width int) *pool {
	if width <= 0 {
		width = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(width)), w: int64(width)}
}

// acquire blocks until a run slot is free or ctx is done. A fiber holds its
// slot only while actually running; it must release before suspending on a
// dependency wait (spec.md §5 "a suspended fiber holds no pool slot").
func (p *pool) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *pool) release() {
	p.sem.Release(1)
}

func (p *pool) width() int {
	return int(p.w)
}
