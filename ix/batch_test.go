package ix

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubNode string

func (s stubNode) Name() string       { return string(s) }
func (s stubNode) ParentPath() string { return "" }
func (s stubNode) IsContainer() bool  { return false }
func (s stubNode) Children(ctx context.Context) iter.Seq2[Node, error] {
	return func(func(Node, error) bool) {}
}
func (s stubNode) Payload(ctx context.Context) (*Payload, error) { return &Payload{Name: string(s)}, nil }

func TestBatchCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 50} {
		b := NewBatch(capacity)
		for i := 0; i < capacity*2; i++ {
			assert.Equal(t, i == capacity, b.IsFull(), "capacity=%d len=%d", capacity, b.Len())
			b.Add(stubNode("n"))
		}
		// Add never refuses; IsFull is exact equality
		assert.Equal(t, capacity*2, b.Len())
		assert.False(t, b.IsFull())

		b.Clear()
		assert.Equal(t, 0, b.Len())
		assert.False(t, b.IsFull())
	}
}

func TestBatchClampsCapacity(t *testing.T) {
	b := NewBatch(0)
	assert.Equal(t, 1, b.Capacity())
	b.Add(stubNode("only"))
	assert.True(t, b.IsFull())
}

func TestBatchNodesIsACopyInOrder(t *testing.T) {
	b := NewBatch(3)
	b.Add(stubNode("n1"))
	b.Add(stubNode("n2"))
	b.Add(stubNode("n3"))

	nodes := b.Nodes()
	b.Clear()

	assert.Len(t, nodes, 3)
	assert.Equal(t, "n1", nodes[0].Name())
	assert.Equal(t, "n3", nodes[2].Name())
}
