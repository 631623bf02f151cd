package taski

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := newPool(2)
	ctx := context.Background()

	var active int32
	var maxActive int32
	done := make(chan struct{})

	work := func() {
		if err := p.acquire(ctx); err != nil {
			t.Errorf("acquire: %v", err)
			done <- struct{}{}
			return
		}
		defer p.release()

		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		done <- struct{}{}
	}

	const n = 5
	for i := 0; i < n; i++ {
		go work()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if maxActive > 2 {
		t.Fatalf("expected at most 2 concurrent acquires, observed %d", maxActive)
	}
}

func TestPool_AcquireRespectsCancellation(t *testing.T) {
	p := newPool(1)
	ctx := context.Background()
	if err := p.acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.acquire(cctx); err == nil {
		t.Fatalf("expected acquire on an already-canceled context to fail")
	}
	p.release()
}
