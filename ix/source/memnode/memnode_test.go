package memnode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

func TestPaths(t *testing.T) {
	leaf := Text("leaf1", "hello")
	root := Dir("A", Dir("B", leaf))

	assert.Equal(t, "", root.ParentPath())
	assert.Equal(t, "/A", ix.NodePath(root))
	assert.Equal(t, "/A/B", leaf.ParentPath())
	assert.Equal(t, "/A/B/leaf1", ix.NodePath(leaf))
}

func TestSyntheticShape(t *testing.T) {
	tests := []struct {
		depth, breadth, leaves, nodes int
	}{
		{0, 3, 1, 1},
		{1, 3, 3, 4},
		{2, 3, 9, 13},
		{3, 2, 8, 15},
	}
	for _, tt := range tests {
		tree := Synthetic("root", tt.depth, tt.breadth)
		assert.Equal(t, tt.leaves, LeafCount(tree), "depth=%d breadth=%d", tt.depth, tt.breadth)
		assert.Equal(t, tt.nodes, Count(tree), "depth=%d breadth=%d", tt.depth, tt.breadth)
	}
}

func TestChildrenYieldsInOrderThenError(t *testing.T) {
	boom := errors.New("listing failed")
	dir := Dir("d", Text("a", ""), Text("b", "")).FailChildren(boom)

	children, err := ix.CollectChildren(context.Background(), dir)
	require.ErrorIs(t, err, boom)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Name())
	assert.Equal(t, "b", children[1].Name())
}

func TestChildrenHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.CollectChildren(ctx, Dir("d", Text("a", "")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPayload(t *testing.T) {
	f := File("doc.txt", []byte("body"), map[string]any{"lang": "en"})
	p, err := f.Payload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", p.Name)
	assert.Equal(t, []byte("body"), p.Content)
	assert.Equal(t, "en", p.Properties["lang"])

	p, err = Dir("d").Payload(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}
