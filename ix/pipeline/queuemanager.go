package pipeline

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
)

// DispatchFunc places one node on its consumer's queue
type DispatchFunc func(ctx context.Context, node ix.Node) error

// Producer feeds nodes to a QueueManager until its source is exhausted
type Producer interface {
	Produce(ctx context.Context, dispatch DispatchFunc) error
}

// QueueManager distributes nodes from producers into one bounded queue per consumer.
// Nodes of one top-level sub-tree always land on the same queue, so a consumer sees
// every parent before its children.
type QueueManager struct {
	queues []chan ix.Node
	// dead[i] is closed when consumer i stopped on a fatal error
	dead     []chan struct{}
	deadOnce []sync.Once

	canStop   atomic.Bool
	closeOnce sync.Once
	producers sync.WaitGroup

	mu   sync.Mutex
	errs []error

	logger *zap.SugaredLogger
}

// NewQueueManager creates n queues (minimum 1) of the given capacity
func NewQueueManager(n, capacity int, log *zap.SugaredLogger) *QueueManager {
	if n < 1 {
		n = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	qm := &QueueManager{
		queues:   make([]chan ix.Node, n),
		dead:     make([]chan struct{}, n),
		deadOnce: make([]sync.Once, n),
		logger:   log,
	}
	for i := range qm.queues {
		qm.queues[i] = make(chan ix.Node, capacity)
		qm.dead[i] = make(chan struct{})
	}
	return qm
}

// Len returns the number of queues
func (qm *QueueManager) Len() int {
	return len(qm.queues)
}

// Queue returns the receive side of queue i
func (qm *QueueManager) Queue(i int) <-chan ix.Node {
	return qm.queues[i]
}

// Depth returns the number of nodes waiting across all queues
func (qm *QueueManager) Depth() int {
	total := 0
	for _, q := range qm.queues {
		total += len(q)
	}
	return total
}

// CanStop reports whether every producer has finished
func (qm *QueueManager) CanStop() bool {
	return qm.canStop.Load()
}

// Route returns the queue index for node
func (qm *QueueManager) Route(node ix.Node) int {
	h := fnv.New32a()
	h.Write([]byte(routeKey(ix.NodePath(node))))
	return int(h.Sum32() % uint32(len(qm.queues)))
}

// routeKey is the first segment below the source root. The root itself routes by its own name.
func routeKey(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return ix.TopSegment(p)
}

// Dispatch blocks until node is queued. It returns errors.ErrRejected when the
// node's consumer has stopped and ctx's error when ctx is done first.
func (qm *QueueManager) Dispatch(ctx context.Context, node ix.Node) error {
	i := qm.Route(node)
	select {
	case <-qm.dead[i]:
		return errors.Wrapf(errors.ErrRejected, "consumer %d stopped", i)
	default:
	}

	select {
	case qm.queues[i] <- node:
		return nil
	case <-qm.dead[i]:
		return errors.Wrapf(errors.ErrRejected, "consumer %d stopped", i)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkDead tells producers that consumer i will not poll again
func (qm *QueueManager) MarkDead(i int) {
	qm.deadOnce[i].Do(func() {
		close(qm.dead[i])
		qm.logger.Warnw("Queue has no consumer anymore", logger.FieldConsumer, i)
	})
}

// AddProducer runs p in its own goroutine
func (qm *QueueManager) AddProducer(ctx context.Context, p Producer) {
	qm.producers.Add(1)
	go func() {
		defer qm.producers.Done()
		if err := p.Produce(ctx, qm.Dispatch); err != nil {
			qm.mu.Lock()
			qm.errs = append(qm.errs, err)
			qm.mu.Unlock()
		}
	}()
}

// Wait blocks until every producer returned, then sets canStop and closes the queues.
// Returns the producers' errors combined.
func (qm *QueueManager) Wait() error {
	qm.producers.Wait()
	qm.Close()

	qm.mu.Lock()
	defer qm.mu.Unlock()
	var combined error
	for _, err := range qm.errs {
		combined = errors.CombineErrors(combined, err)
	}
	return combined
}

// Close sets canStop and closes every queue. Producers must have finished.
func (qm *QueueManager) Close() {
	qm.closeOnce.Do(func() {
		qm.canStop.Store(true)
		for _, q := range qm.queues {
			close(q)
		}
	})
}

// Drain empties closed queues, handing every leftover node to fn
func (qm *QueueManager) Drain(fn func(queue int, node ix.Node)) int {
	n := 0
	for i, q := range qm.queues {
		for node := range q {
			fn(i, node)
			n++
		}
	}
	return n
}
