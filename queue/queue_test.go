package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgecfg/cfgtree"
)

func TestSubmitAndWaitRunsBeforeReturning(t *testing.T) {
	q := New(context.Background(), nil)
	defer q.Close()

	var ran int32
	if err := q.SubmitAndWait(func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
	}); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("action did not run before SubmitAndWait returned")
	}
}

func TestSubmitPreservesFIFOOrder(t *testing.T) {
	q := New(context.Background(), nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := q.Submit(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	q.Drain()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 20 {
		t.Fatalf("expected 20 actions to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order at %d: %d", i, v)
		}
	}
}

func TestDrainWaitsForTransitivelySubmittedActions(t *testing.T) {
	q := New(context.Background(), nil)
	defer q.Close()

	var depth2Ran int32
	_ = q.Submit(func(ctx context.Context) {
		_ = q.Submit(func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			atomic.StoreInt32(&depth2Ran, 1)
		})
	})
	q.Drain()

	if atomic.LoadInt32(&depth2Ran) != 1 {
		t.Fatalf("drain returned before transitively submitted action completed")
	}
}

func TestPanickingActionDoesNotStopWorker(t *testing.T) {
	q := New(context.Background(), nil)
	defer q.Close()

	_ = q.Submit(func(ctx context.Context) {
		panic("boom")
	})

	var ran int32
	if err := q.SubmitAndWait(func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
	}); err != nil {
		t.Fatalf("SubmitAndWait after panic: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("worker did not continue processing after a panicking action")
	}
}

func TestSubmitAfterCloseFailsWithShuttingDown(t *testing.T) {
	q := New(context.Background(), nil)
	q.Close()

	err := q.Submit(func(ctx context.Context) {})
	if err == nil {
		t.Fatalf("expected ShuttingDown error, got nil")
	}
	if !cfgtree.IsCode(err, cfgtree.ShuttingDown) {
		t.Fatalf("expected ShuttingDown error code, got %v", err)
	}
}

func TestAfterActionHookRunsOncePerAction(t *testing.T) {
	q := New(context.Background(), nil)
	defer q.Close()

	var hooks int32
	q.SetAfterAction(func() { atomic.AddInt32(&hooks, 1) })

	_ = q.Submit(func(ctx context.Context) {})
	_ = q.Submit(func(ctx context.Context) {})
	q.Drain()

	if atomic.LoadInt32(&hooks) != 2 {
		t.Fatalf("expected 2 after-action hook calls, got %d", hooks)
	}
}
