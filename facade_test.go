package taski

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// Diamond dependency fixture: facadeRoot depends on facadeA and facadeB,
// both of which depend on facadeLeaf. Exercises S1 (diamond dependency,
// leaf runs exactly once) end to end through the façade, the analyzer,
// the graph, and the scheduler.

type facadeLeaf struct{}

var facadeLeafType = Register[facadeLeaf]()
var facadeLeafValue = NewExport[int](reflect.TypeOf(facadeLeaf{}), "value")

func (facadeLeaf) Run(ctx *RunCtx) error {
	facadeLeafValue.Set(ctx, 10)
	return nil
}

type facadeA struct{}

var facadeAType = Register[facadeA]()
var facadeAValue = NewExport[int](reflect.TypeOf(facadeA{}), "value")

func (facadeA) Run(ctx *RunCtx) error {
	v, err := facadeLeafValue.Get(ctx)
	if err != nil {
		return err
	}
	facadeAValue.Set(ctx, v*2)
	return nil
}

type facadeB struct{}

var facadeBType = Register[facadeB]()
var facadeBValue = NewExport[int](reflect.TypeOf(facadeB{}), "value")

func (facadeB) Run(ctx *RunCtx) error {
	v, err := facadeLeafValue.Get(ctx)
	if err != nil {
		return err
	}
	facadeBValue.Set(ctx, v*3)
	return nil
}

type facadeRoot struct{}

var facadeRootType = Register[facadeRoot]()
var facadeRootValue = NewExport[int](reflect.TypeOf(facadeRoot{}), "value")

func (facadeRoot) Run(ctx *RunCtx) error {
	av, err := facadeAValue.Get(ctx)
	if err != nil {
		return err
	}
	bv, err := facadeBValue.Get(ctx)
	if err != nil {
		return err
	}
	facadeRootValue.Set(ctx, av+bv)
	return nil
}

func TestRun_DiamondDependency(t *testing.T) {
	Reset(facadeLeafType)
	Reset(facadeAType)
	Reset(facadeBType)
	Reset(facadeRootType)

	if err := Run(context.Background(), facadeRootType); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec := globalRegistry.getOrCreate(facadeRootType)
	got, _ := rec.exports["value"].(int)
	if got != 50 {
		t.Fatalf("expected root value 50 (leaf=10, a=20, b=30), got %d", got)
	}

	leafRec := globalRegistry.getOrCreate(facadeLeafType)
	if leafRec.snapshotState() != StateCompleted {
		t.Fatalf("expected leaf to complete exactly once and reach StateCompleted")
	}
}

func TestRun_CompletedTaskIsNotRerun(t *testing.T) {
	Reset(facadeLeafType)
	Reset(facadeAType)
	Reset(facadeBType)
	Reset(facadeRootType)

	if err := Run(context.Background(), facadeRootType); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// Mutate the persisted export directly to prove a second Run doesn't
	// re-execute the already-completed leaf (spec.md §2 C1 persistence).
	leafRec := globalRegistry.getOrCreate(facadeLeafType)
	leafRec.exports["value"] = 999

	if err := Run(context.Background(), facadeRootType); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	// facadeRoot itself is also already completed, so it won't be re-run
	// either, meaning its exported value is untouched from the first Run.
	rec := globalRegistry.getOrCreate(facadeRootType)
	got, _ := rec.exports["value"].(int)
	if got != 50 {
		t.Fatalf("expected the root's value to remain from the first run (50), got %d", got)
	}
	if v, _ := leafRec.exports["value"].(int); v != 999 {
		t.Fatalf("expected the completed leaf not to re-run and overwrite its mutated export (999), got %d", v)
	}
}

type failingLeaf struct{}

var failingLeafType = Register[failingLeaf]()

func (failingLeaf) Run(ctx *RunCtx) error {
	return errSentinel
}

type dependentOnFailingLeaf struct{}

var dependentOnFailingLeafType = Register[dependentOnFailingLeaf]()
var failingLeafValue = NewExport[int](reflect.TypeOf(failingLeaf{}), "value")

func (dependentOnFailingLeaf) Run(ctx *RunCtx) error {
	_, err := failingLeafValue.Get(ctx)
	return err
}

// TestRun_DirectConsumerPropagatesFailure exercises a single-hop pull on a
// failed dependency: the consumer still runs (it calls Get() itself and
// may have recovered), and here propagates the error, so it settles
// StateFailed rather than being skipped before it ever started.
func TestRun_DirectConsumerPropagatesFailure(t *testing.T) {
	Reset(failingLeafType)
	Reset(dependentOnFailingLeafType)

	err := Run(context.Background(), dependentOnFailingLeafType)
	if err == nil {
		t.Fatalf("expected Run to report the leaf's failure")
	}

	leafRec := globalRegistry.getOrCreate(failingLeafType)
	if leafRec.snapshotState() != StateFailed {
		t.Fatalf("expected the leaf itself to settle StateFailed, got %v", leafRec.snapshotState())
	}

	depRec := globalRegistry.getOrCreate(dependentOnFailingLeafType)
	if depRec.snapshotState() != StateFailed {
		t.Fatalf("expected the dependent to run, receive the propagated error, and settle StateFailed, got %v", depRec.snapshotState())
	}
}

// Three-node cascade: cascadeRoot depends on both cascadeIndependent and
// cascadeMiddle, and cascadeMiddle depends on cascadeFailingLeaf.
// cascadeFailingLeaf fails; cascadeMiddle propagates through its own pull;
// cascadeRoot propagates through its own pull on cascadeMiddle.
// cascadeIndependent shares no edge with the failure and completes.

type cascadeIndependent struct{}

var cascadeIndependentType = Register[cascadeIndependent]()

func (cascadeIndependent) Run(ctx *RunCtx) error {
	cascadeIndependentValue.Set(ctx, 1)
	return nil
}

type cascadeFailingLeaf struct{}

var cascadeFailingLeafType = Register[cascadeFailingLeaf]()

func (cascadeFailingLeaf) Run(ctx *RunCtx) error { return errSentinel }

type cascadeMiddle struct{}

var cascadeMiddleType = Register[cascadeMiddle]()
var cascadeFailingLeafValue = NewExport[int](reflect.TypeOf(cascadeFailingLeaf{}), "value")

func (cascadeMiddle) Run(ctx *RunCtx) error {
	_, err := cascadeFailingLeafValue.Get(ctx)
	return err
}

type cascadeRoot struct{}

var cascadeRootType = Register[cascadeRoot]()
var cascadeIndependentValue = NewExport[int](reflect.TypeOf(cascadeIndependent{}), "value")

var cascadeMiddleValue = NewExport[int](reflect.TypeOf(cascadeMiddle{}), "value")

func (cascadeRoot) Run(ctx *RunCtx) error {
	if _, err := cascadeIndependentValue.Get(ctx); err != nil {
		return err
	}
	_, err := cascadeMiddleValue.Get(ctx)
	return err
}

func TestRun_CascadePropagatesThroughMultipleHops(t *testing.T) {
	Reset(cascadeIndependentType)
	Reset(cascadeFailingLeafType)
	Reset(cascadeMiddleType)
	Reset(cascadeRootType)

	err := Run(context.Background(), cascadeRootType)
	if err == nil {
		t.Fatalf("expected Run to report the leaf's failure")
	}

	if s := globalRegistry.getOrCreate(cascadeFailingLeafType).snapshotState(); s != StateFailed {
		t.Fatalf("expected cascadeFailingLeaf StateFailed, got %v", s)
	}
	if s := globalRegistry.getOrCreate(cascadeMiddleType).snapshotState(); s != StateFailed {
		t.Fatalf("expected cascadeMiddle StateFailed, got %v", s)
	}
	if s := globalRegistry.getOrCreate(cascadeRootType).snapshotState(); s != StateFailed {
		t.Fatalf("expected cascadeRoot StateFailed, got %v", s)
	}
	if s := globalRegistry.getOrCreate(cascadeIndependentType).snapshotState(); s != StateCompleted {
		t.Fatalf("expected cascadeIndependent, sharing no edge with the failure, to complete, got %v", s)
	}

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected Run's error to be an *AggregateError, got %T", err)
	}
	if !agg.ContainsTask(cascadeFailingLeafType) || !agg.ContainsTask(cascadeMiddleType) || !agg.ContainsTask(cascadeRootType) {
		t.Fatalf("expected the aggregate to name all three failing tasks, got %v", agg)
	}
	if got := len(agg.merr.Errors); got != 3 {
		t.Fatalf("expected 3 distinct TaskErrors in the aggregate (leaf, middle, root), got %d", got)
	}
}
