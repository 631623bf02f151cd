package taski

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

type recordingObserver struct {
	BaseObserver
	mu     sync.Mutex
	ready  bool
	start  bool
	stop   bool
	events []Event
}

func (o *recordingObserver) OnReady(*ExecutionScope) { o.mu.Lock(); o.ready = true; o.mu.Unlock() }
func (o *recordingObserver) OnStart(*ExecutionScope) { o.mu.Lock(); o.start = true; o.mu.Unlock() }
func (o *recordingObserver) OnStop(*ExecutionScope, error) { o.mu.Lock(); o.stop = true; o.mu.Unlock() }
func (o *recordingObserver) OnTaskUpdated(_ *ExecutionScope, ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

type observedLeaf struct{}

var observedLeafType = Register[observedLeaf]()

func (observedLeaf) Run(ctx *RunCtx) error { return nil }

func TestRun_NotifiesObserverLifecycle(t *testing.T) {
	Reset(observedLeafType)

	obs := &recordingObserver{}
	if err := Run(context.Background(), observedLeafType, WithObservers(obs)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if !obs.ready || !obs.start || !obs.stop {
		t.Fatalf("expected on_ready, on_start and on_stop to all fire, got ready=%v start=%v stop=%v", obs.ready, obs.start, obs.stop)
	}

	var sawCompleted bool
	for _, ev := range obs.events {
		if ev.Task == reflect.TypeOf(observedLeaf{}) && ev.State == StateCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatalf("expected a task_updated event reporting observedLeaf as completed")
	}
}
