package ix_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/ix/factory"
	"github.com/teranos/ixbulk/ix/source/memnode"
	"github.com/teranos/ixbulk/repository/memstore"
)

func TestResolveTargetCreatesMissingContainers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	ref, err := ix.ResolveTarget(ctx, store, "/imports/2026/", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "/imports/2026", ref.Path)
	assert.Equal(t, []string{"/imports", "/imports/2026"}, store.Paths())

	again, err := ix.ResolveTarget(ctx, store, "imports/2026", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 2, store.Len())
}

func TestResolveTargetRoot(t *testing.T) {
	ref, err := ix.ResolveTarget(context.Background(), memstore.New(), "/", time.Minute)
	require.NoError(t, err)
	assert.True(t, ref.IsRoot())
}

func TestPathMapperPlacesNodesUnderRoot(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	root, err := ix.ResolveTarget(ctx, store, "/target", time.Minute)
	require.NoError(t, err)

	leaf := memnode.Text("leaf1", "x")
	sub := memnode.Dir("B", leaf)
	tree := memnode.Dir("A", sub)

	m := ix.PathMapper{Factory: factory.New(factory.Options{}, nil), Root: root}
	uow, _ := store.Begin(ctx, 0)
	for _, n := range []ix.Node{tree, sub, leaf} {
		_, err := m.Map(ctx, uow, n)
		require.NoError(t, err)
	}
	require.NoError(t, uow.Commit())

	assert.Equal(t, []string{"/target", "/target/A", "/target/A/B", "/target/A/B/leaf1"}, store.Paths())
}

func TestPathMapperMissingParentIsMappingError(t *testing.T) {
	ctx := context.Background()
	leaf := memnode.Text("orphan", "x")
	memnode.Dir("A", leaf)

	m := ix.PathMapper{Factory: factory.New(factory.Options{}, nil)}
	uow, _ := memstore.New().Begin(ctx, 0)
	_, err := m.Map(ctx, uow, leaf)

	require.Error(t, err)
	assert.True(t, errors.IsMappingError(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestWorkerIDContext(t *testing.T) {
	ctx := ix.WithWorkerID(context.Background(), "T7")
	assert.Equal(t, "T7", ix.WorkerIDFromContext(ctx))
	assert.Equal(t, "", ix.WorkerIDFromContext(context.Background()))
}

func TestNodePathHelpers(t *testing.T) {
	assert.Equal(t, "/a/b", ix.JoinPath("", "a", "b"))
	assert.Equal(t, "/a/b", ix.JoinPath("/a/", "b"))
	assert.Equal(t, "a", ix.TopSegment("/a/b/c"))
	assert.Equal(t, "a", ix.TopSegment("a"))
}
