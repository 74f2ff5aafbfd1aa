package executor

import "context"

// Pool is a fixed set of workers fed by a bounded queue.
type Pool struct {
	name  string
	tasks chan func(context.Context)
}

// TrySubmit queues task without blocking. It returns false when the queue is
// full, leaving the decision to drop or retry to the caller.
func (p *Pool) TrySubmit(task func(ctx context.Context)) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Pending reports how many tasks are queued but not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Name identifies the pool in logs.
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-p.tasks:
			task(ctx)
		}
	}
}
