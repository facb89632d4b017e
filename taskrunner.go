package cfgtree

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner is a thin errgroup wrapper that tucks the group's derived context alongside it,
// used by the tlog writer to supervise its background flush task (§5) so Close can cancel and
// await it the same way the store awaits any other background goroutine.
type TaskRunner struct {
	eg      *errgroup.Group
	context context.Context
}

// NewTaskRunner constructs a TaskRunner bound to ctx. maxThreadCount caps concurrently running
// tasks; zero or negative means unlimited.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	if maxThreadCount > 0 {
		eg.SetLimit(maxThreadCount)
	}
	return &TaskRunner{
		eg:      eg,
		context: ctx2,
	}
}

// GetContext returns the group's derived context, cancelled when any task returns an error or
// the parent context passed to NewTaskRunner is cancelled.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go runs task on its own goroutine under the group.
func (tr *TaskRunner) Go(task func() error) {
	tr.eg.Go(task)
}

// Wait blocks until every task started with Go has returned, and returns the first non-nil
// error, if any.
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
