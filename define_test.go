package taski

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
)

type defineLeaf struct{}

var defineLeafType = Register[defineLeaf]()
var defineLeafValue = NewExport[int](reflect.TypeOf(defineLeaf{}), "value")

func (defineLeaf) Run(ctx *RunCtx) error {
	defineLeafValue.Set(ctx, 7)
	return nil
}

var defineEvalCount int32

var defineDoubled = Define[int](reflect.TypeOf(defineLeaf{}), "doubled", func(ctx *RunCtx) (int, error) {
	atomic.AddInt32(&defineEvalCount, 1)
	v, err := defineLeafValue.Get(ctx)
	if err != nil {
		return 0, err
	}
	return v * 2, nil
})

func TestDefined_EvaluatesOnceAndMemoizes(t *testing.T) {
	Reset(defineLeafType)
	atomic.StoreInt32(&defineEvalCount, 0)

	if err := Run(context.Background(), defineLeafType); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec := globalRegistry.getOrCreate(defineLeafType)
	rc := &RunCtx{scope: newExecutionScope(globalRegistry, newDependencyGraph(defineLeafType)), record: rec}
	rc.scope.scheduler = newScheduler(context.Background(), rc.scope, 1)

	v1, err := defineDoubled.Get(rc)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	v2, err := defineDoubled.Get(rc)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if v1 != 14 || v2 != 14 {
		t.Fatalf("expected doubled value 14 on both reads, got %d and %d", v1, v2)
	}
	if atomic.LoadInt32(&defineEvalCount) != 1 {
		t.Fatalf("expected the thunk to evaluate exactly once, ran %d times", defineEvalCount)
	}
}

func TestDiscoverCtx_RecordsPulls(t *testing.T) {
	dc := newDiscoverCtx(nil)
	owner := reflect.TypeOf(defineLeaf{})

	dc.recordPull(owner, "value")
	dc.recordPull(owner, "value") // duplicate, should not double-count

	if len(dc.pulls) != 1 {
		t.Fatalf("expected recordPull to deduplicate repeated pulls, got %d entries", len(dc.pulls))
	}
	if dc.pulls[0].task != owner || dc.pulls[0].name != "value" {
		t.Fatalf("unexpected recorded pull: %+v", dc.pulls[0])
	}
}

func TestDefined_DiscoverDeps(t *testing.T) {
	deps := defineDoubled.discoverDeps(nil)
	if len(deps) != 1 {
		t.Fatalf("expected exactly one discovered dependency, got %d", len(deps))
	}
	if deps[0].task != reflect.TypeOf(defineLeaf{}) || deps[0].name != "value" {
		t.Fatalf("unexpected discovered dependency: %+v", deps[0])
	}
}
