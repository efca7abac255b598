package fork

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/logger"
)

// Runnable is a unit of pool work. worker is the index of the pool goroutine running it.
type Runnable interface {
	Run(ctx context.Context, worker int)
}

// poolLogger wraps zap.SugaredLogger with lifecycle methods for pool operations
type poolLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event (workers spawned, root handed off)
func (l poolLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a closing event (shutdown, drain)
func (l poolLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow("❀ "+msg, keysAndValues...)
}

// Pool is a fixed set of worker goroutines fed by a bounded pending queue.
// TrySubmit never blocks: a full queue rejects and the caller keeps the work.
type Pool struct {
	workers int
	pending chan Runnable
	handoff chan Runnable
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu            sync.Mutex
	activeWorkers int
	closed        bool

	// outstanding counts accepted work that has not finished running
	outstanding atomic.Int64
	logger      poolLogger
}

// NewPool starts workers goroutines (minimum 1) with a pending queue of pendingCapacity.
// A capacity of 0 rejects every TrySubmit.
func NewPool(ctx context.Context, workers, pendingCapacity int, log *zap.SugaredLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if pendingCapacity < 0 {
		pendingCapacity = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers: workers,
		pending: make(chan Runnable, pendingCapacity),
		handoff: make(chan Runnable),
		done:    make(chan struct{}),
		ctx:     workerCtx,
		cancel:  cancel,
		logger:  poolLogger{log},
	}

	p.logger.Starting("Starting worker pool",
		logger.FieldThreads, workers,
		"pending_capacity", pendingCapacity)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// TrySubmit queues r without blocking. Returns errors.ErrRejected when the queue is full,
// the capacity is 0 or the pool is shut down.
func (p *Pool) TrySubmit(r Runnable) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || cap(p.pending) == 0 {
		return errors.ErrRejected
	}

	p.outstanding.Add(1)
	select {
	case p.pending <- r:
		return nil
	default:
		p.outstanding.Add(-1)
		return errors.ErrRejected
	}
}

// Execute hands r to the next idle worker, blocking until one takes it or ctx is done.
// It bypasses the pending queue, so it works with a capacity of 0.
func (p *Pool) Execute(ctx context.Context, r Runnable) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.ErrRejected
	}

	p.outstanding.Add(1)
	select {
	case p.handoff <- r:
		return nil
	case <-ctx.Done():
		p.outstanding.Add(-1)
		return errors.Wrap(ctx.Err(), "hand off task")
	case <-p.done:
		p.outstanding.Add(-1)
		return errors.ErrRejected
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		var r Runnable
		select {
		case <-p.done:
			return
		case r = <-p.handoff:
		case r = <-p.pending:
		}
		p.run(id, r)
	}
}

func (p *Pool) run(id int, r Runnable) {
	p.mu.Lock()
	p.activeWorkers++
	p.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Errorw("Worker recovered from panic", logger.FieldWorkerID, id, "panic", rec)
		}
		p.mu.Lock()
		p.activeWorkers--
		p.mu.Unlock()
		p.outstanding.Add(-1)
	}()

	r.Run(p.ctx, id)
}

// ActiveCount returns how many workers are running a task
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeWorkers
}

// QueueDepth returns the number of tasks waiting in the pending queue
func (p *Pool) QueueDepth() int {
	return len(p.pending)
}

// QueueCapacity returns the pending queue bound
func (p *Pool) QueueCapacity() int {
	return cap(p.pending)
}

// Workers returns the fixed worker count
func (p *Pool) Workers() int {
	return p.workers
}

// Outstanding returns accepted work that has not finished: queued plus running
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Idle reports whether no work is queued or running
func (p *Pool) Idle() bool {
	return p.Outstanding() == 0
}

// Shutdown stops the workers after their current task and waits up to timeout.
// Work still queued is dropped; callers drain by waiting for Idle first.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)

	waitDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		p.logger.Closing("Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		p.logger.Closing("Worker pool stop timed out, workers may still be committing", "timeout", timeout)
	}
	p.cancel()
}
