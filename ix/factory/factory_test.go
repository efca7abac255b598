package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/ix/source/memnode"
	"github.com/teranos/ixbulk/repository/memstore"
)

func TestCreateContainerAndLeaf(t *testing.T) {
	ctx := ix.WithWorkerID(context.Background(), "T0")
	store := memstore.New()
	f := New(Options{}, zaptest.NewLogger(t).Sugar())

	uow, err := store.Begin(ctx, 0)
	require.NoError(t, err)

	leaf := memnode.File("readme.md", []byte("# Kirby\n"), map[string]any{"author": "tas-bot"})
	root := memnode.Dir("A", leaf)

	dir, err := f.CreateContainer(ctx, uow, ix.DocRef{}, root)
	require.NoError(t, err)
	assert.Equal(t, "/A", dir.Path)

	ref, err := f.CreateLeaf(ctx, uow, dir, leaf)
	require.NoError(t, err)
	assert.Equal(t, "/A/readme.md", ref.Path)
	require.NoError(t, uow.Commit())

	doc, ok := store.Get("/A/readme.md")
	require.True(t, ok)
	assert.Equal(t, ix.KindLeaf, doc.Kind)
	assert.Equal(t, "readme.md", doc.ContentName)
	assert.Equal(t, "T0", doc.CreatedBy)
	assert.Equal(t, "tas-bot", doc.Properties["author"])
	assert.Contains(t, doc.MimeType, "text/plain")
}

func TestMimeTypeOverride(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	f := New(Options{}, nil)

	leaf := memnode.File("data.bin", []byte{0, 1, 2}, map[string]any{PropMimeType: "application/x-custom"})
	uow, _ := store.Begin(ctx, 0)
	_, err := f.CreateLeaf(ctx, uow, ix.DocRef{}, leaf)
	require.NoError(t, err)
	require.NoError(t, uow.Commit())

	doc, _ := store.Get("/data.bin")
	assert.Equal(t, "application/x-custom", doc.MimeType)
	_, kept := doc.Properties[PropMimeType]
	assert.False(t, kept)
}

func TestCreateLeafFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		opts Options
		node ix.Node
	}{
		{"no payload", Options{}, memnode.Dir("not-a-leaf")},
		{"too large", Options{MaxContentBytes: 2}, memnode.Text("big.txt", "abc")},
		{"separator in name", Options{}, memnode.Text("a/b", "x")},
		{"empty name", Options{}, memnode.Text("", "x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow, _ := memstore.New().Begin(ctx, 0)
			_, err := New(tt.opts, nil).CreateLeaf(ctx, uow, ix.DocRef{}, tt.node)
			assert.Error(t, err)
		})
	}
}

func TestCreateThroughEngineHelperMarksMapping(t *testing.T) {
	ctx := context.Background()
	uow, _ := memstore.New().Begin(ctx, 0)

	_, err := ix.Create(ctx, New(Options{MaxContentBytes: 1}, nil), uow, ix.DocRef{}, memnode.Text("big.txt", "abc"))
	require.Error(t, err)
	assert.True(t, errors.IsMappingError(err))

	var me *ix.MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "/big.txt", me.Path)
	assert.NotEmpty(t, errors.GetAllHints(err))
}
