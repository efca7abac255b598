package fsnode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"site/index.html":                 {Data: []byte("<html></html>")},
		"site/index.html.props.yaml":      {Data: []byte("title: Home\ntags: [landing, public]\n")},
		"site/.DS_Store":                  {Data: []byte("junk")},
		"site/.git/config":                {Data: []byte("[core]")},
		"site/posts/hello.md":             {Data: []byte("# hello")},
		"site/posts/broken.md":            {Data: []byte("x")},
		"site/posts/broken.md.props.yaml": {Data: []byte("- not\n- a mapping\n")},
	}
}

func collect(t *testing.T, n ix.Node) []string {
	t.Helper()
	var paths []string
	var walk func(ix.Node)
	walk = func(n ix.Node) {
		paths = append(paths, ix.NodePath(n))
		children, err := ix.CollectChildren(context.Background(), n)
		require.NoError(t, err)
		for _, c := range children {
			walk(c)
		}
	}
	walk(n)
	return paths
}

func TestTreeSkipsDotFilesAndSidecars(t *testing.T) {
	root, err := New(testFS(), "site")
	require.NoError(t, err)

	assert.Equal(t, "site", root.Name())
	assert.Empty(t, root.ParentPath())
	assert.True(t, root.IsContainer())
	assert.Equal(t, []string{
		"/site",
		"/site/index.html",
		"/site/posts",
		"/site/posts/broken.md",
		"/site/posts/hello.md",
	}, collect(t, root))
}

func TestPayloadMergesSidecar(t *testing.T) {
	root, err := New(testFS(), "site")
	require.NoError(t, err)

	children, err := ix.CollectChildren(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, "index.html", children[0].Name())

	p, err := children[0].Payload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(p.Content))
	assert.Equal(t, "Home", p.Properties["title"])
	assert.Equal(t, []any{"landing", "public"}, p.Properties["tags"])
	assert.Equal(t, int64(13), p.Properties[PropSize])
}

func TestInvalidSidecarIsAnError(t *testing.T) {
	leaf, err := New(testFS(), "site/posts/broken.md")
	require.NoError(t, err)

	_, err = leaf.Payload(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestContainerHasNoPayload(t *testing.T) {
	root, err := New(testFS(), "site")
	require.NoError(t, err)
	p, err := root.Payload(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestMissingSource(t *testing.T) {
	_, err := New(testFS(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestOpenLocalDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "notes")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024", "jan.txt"), []byte("cold"), 0o644))

	root, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"/notes", "/notes/2024", "/notes/2024/jan.txt"}, collect(t, root))
}

func TestChildrenHonoursContext(t *testing.T) {
	root, err := New(testFS(), "site")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ix.CollectChildren(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
