// Package queue implements the single-writer publish queue (§4.1): the serialising mailbox
// through which every tree mutation and subscriber delivery passes, so the store behaves as
// a single-threaded actor regardless of how many goroutines call into it. The shape mirrors
// the teacher repo's worker-pool job processor, generalised from a fixed-size task channel to
// an unbounded FIFO so submit() never blocks the caller on capacity.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/edgecfg/cfgtree"
)

// Action is a unit of work run exclusively on the queue's worker goroutine.
type Action func(ctx context.Context)

type job struct {
	action Action
	done   chan struct{}
}

// Queue is the publish queue described in §4.1. The zero value is not usable; construct with
// New.
type Queue struct {
	ctx    context.Context
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   []job
	closed  bool // true once Close has rejected further submissions
	stopped bool // true once the worker is told to exit after draining

	wg     sync.WaitGroup // outstanding (queued + in-flight) actions, for Drain
	workerDone chan struct{}

	// afterAction, when set, runs after every action completes (including the outermost
	// level of any actions it submits recursively) — the store facade uses this to flush
	// coalesced childChanged events once per action (§4.3).
	afterAction func()
}

// New constructs a Queue and starts its worker goroutine. ctx bounds only background work the
// worker itself may start (none, today); it is not a per-action timeout (§5).
func New(ctx context.Context, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{ctx: ctx, logger: logger, workerDone: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// SetAfterAction installs a hook invoked after each top-level action completes.
func (q *Queue) SetAfterAction(fn func()) {
	q.mu.Lock()
	q.afterAction = fn
	q.mu.Unlock()
}

// Submit enqueues action for execution on the worker goroutine and returns immediately. It
// preserves FIFO order among submissions accepted from this queue, and fails with a
// cfgtree.ShuttingDown error once Close has begun.
func (q *Queue) Submit(action Action) error {
	return q.enqueue(action, nil)
}

// SubmitAndWait enqueues action and blocks until it has run to completion.
func (q *Queue) SubmitAndWait(action Action) error {
	done := make(chan struct{})
	if err := q.enqueue(action, done); err != nil {
		return err
	}
	<-done
	return nil
}

func (q *Queue) enqueue(action Action, done chan struct{}) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return cfgtree.NewError(cfgtree.ShuttingDown, nil, errors.New("publish queue is closed"))
	}
	q.wg.Add(1)
	q.items = append(q.items, job{action: action, done: done})
	q.cond.Signal()
	q.mu.Unlock()
	return nil
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.stopped {
			q.mu.Unlock()
			close(q.workerDone)
			return
		}
		j := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.runOne(j)
	}
}

func (q *Queue) runOne(j job) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("publish queue action panicked", "recover", r)
		}
		q.mu.Lock()
		after := q.afterAction
		q.mu.Unlock()
		if after != nil {
			after()
		}
		if j.done != nil {
			close(j.done)
		}
	}()
	j.action(q.ctx)
}

// Drain blocks until the queue is empty, including any actions already-running actions
// themselves submit (transitive quiescence): an action submitted while its submitter is still
// in flight holds the wait group above zero, so Drain correctly waits for it too.
func (q *Queue) Drain() {
	q.wg.Wait()
}

// Close rejects further submissions, waits for the queue to drain, then stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Drain()

	q.mu.Lock()
	q.stopped = true
	q.cond.Signal()
	q.mu.Unlock()

	<-q.workerDone
}
