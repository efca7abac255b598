package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/ix/source/memnode"
)

func TestRouteKey(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/A", "A"},
		{"/A/x.txt", "x.txt"},
		{"/A/B", "B"},
		{"/A/B/C/deep.txt", "B"},
		{"A/B/c", "B"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, routeKey(tt.path))
		})
	}
}

func TestSubtreeStaysOnOneQueue(t *testing.T) {
	qm := NewQueueManager(4, 10, zaptest.NewLogger(t).Sugar())
	root := memnode.Synthetic("A", 3, 3)

	routes := map[string]int{}
	memnode.Walk(root, func(n *memnode.Node) {
		key := routeKey(ix.NodePath(n))
		i := qm.Route(n)
		if prev, ok := routes[key]; ok {
			assert.Equal(t, prev, i, "sub-tree %s split across queues", key)
		}
		routes[key] = i
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 4)
	})
}

func TestDispatchRejectsDeadConsumer(t *testing.T) {
	qm := NewQueueManager(1, 1, zaptest.NewLogger(t).Sugar())
	node := memnode.Text("x", "1")

	require.NoError(t, qm.Dispatch(context.Background(), node))

	// Queue is full; a dead consumer unblocks the producer
	done := make(chan error, 1)
	go func() { done <- qm.Dispatch(context.Background(), node) }()
	qm.MarkDead(0)
	qm.MarkDead(0)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrRejected)
	case <-time.After(time.Second):
		t.Fatal("dispatch stayed blocked")
	}
}

func TestDispatchHonoursContext(t *testing.T) {
	qm := NewQueueManager(1, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := qm.Dispatch(ctx, memnode.Text("x", "1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type producerFunc func(ctx context.Context, dispatch DispatchFunc) error

func (f producerFunc) Produce(ctx context.Context, dispatch DispatchFunc) error {
	return f(ctx, dispatch)
}

func TestWaitClosesQueuesAndCombinesErrors(t *testing.T) {
	qm := NewQueueManager(2, 10, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	qm.AddProducer(ctx, &TreeProducer{Root: memnode.Synthetic("A", 1, 3)})
	qm.AddProducer(ctx, producerFunc(func(context.Context, DispatchFunc) error {
		return errors.New("feed unavailable")
	}))

	assert.False(t, qm.CanStop())
	err := qm.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")
	assert.True(t, qm.CanStop())
	assert.Equal(t, 4, qm.Depth())

	var mu sync.Mutex
	var drained []string
	n := qm.Drain(func(_ int, node ix.Node) {
		mu.Lock()
		defer mu.Unlock()
		drained = append(drained, ix.NodePath(node))
	})
	assert.Equal(t, 4, n)
	assert.ElementsMatch(t, []string{"/A", "/A/leaf-0.txt", "/A/leaf-1.txt", "/A/leaf-2.txt"}, drained)
}

func TestTreeProducerReportsListingFailure(t *testing.T) {
	broken := memnode.Dir("B", memnode.Text("b1", "x")).FailChildren(errors.New("permission denied"))
	root := memnode.Dir("A", broken, memnode.Text("after", "y"))

	var reported []string
	p := &TreeProducer{
		Root:     root,
		SkipRoot: true,
		Report: func(kind ix.ErrorKind, path string, err error) {
			assert.Equal(t, ix.ErrorKindMapping, kind)
			assert.True(t, errors.IsMappingError(err))
			reported = append(reported, path)
		},
	}

	var got []string
	require.NoError(t, p.Produce(context.Background(), func(_ context.Context, n ix.Node) error {
		got = append(got, ix.NodePath(n))
		return nil
	}))

	assert.Equal(t, []string{"/A/B", "/A/B/b1", "/A/after"}, got)
	assert.Equal(t, []string{"/A/B"}, reported)
	assert.Equal(t, int64(3), p.Dispatched())
}

func TestTreeProducerWithoutReportFailsFast(t *testing.T) {
	root := memnode.Dir("A").FailChildren(errors.New("io timeout"))
	err := (&TreeProducer{Root: root}).Produce(context.Background(), func(context.Context, ix.Node) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list children of /A")
}
