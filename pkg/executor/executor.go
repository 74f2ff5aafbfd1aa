// Package executor is the node's explicit task runner. It is built once at
// startup and handed to every component that needs to schedule I/O.
package executor

import (
	"context"
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("lanchat/executor")

// Executor runs named background tasks and owns worker pools. All of them
// stop when the executor is shut down.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.Mutex
	closed bool
}

// New creates an executor whose tasks live until parent is cancelled or
// Shutdown is called.
func New(parent context.Context) *Executor {
	ctx, cancel := context.WithCancel(parent)
	return &Executor{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the executor shuts down.
func (e *Executor) Context() context.Context {
	return e.ctx
}

// Go runs fn on its own goroutine. A returned error is logged and reported
// by Shutdown; it does not stop other tasks.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		log.Debugf("task %s not started: executor shut down", name)
		return
	}

	e.group.Go(func() error {
		err := fn(e.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("task %s exited: %v", name, err)
			return err
		}
		return nil
	})
}

// NewPool starts a pool of workers that drain a queue of at most depth
// pending tasks.
func (e *Executor) NewPool(name string, workers, depth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	p := &Pool{name: name, tasks: make(chan func(context.Context), depth)}
	for i := 0; i < workers; i++ {
		e.Go(name, p.work)
	}
	return p
}

// Shutdown cancels every task and waits for them to return.
func (e *Executor) Shutdown() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	return e.group.Wait()
}
