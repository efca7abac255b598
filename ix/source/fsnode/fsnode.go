// Package fsnode exposes a directory tree as import source nodes.
//
// Directories are containers and regular files are leaves. A file named
// "<leaf>.props.yaml" next to a leaf holds its properties and is not itself
// imported. Dot-files and dot-directories are skipped.
package fsnode

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// SidecarSuffix marks property files
const SidecarSuffix = ".props.yaml"

// Property keys set on every leaf
const (
	PropSize     = "size"
	PropModified = "modified"
)

// Node is one file or directory of an fs.FS
type Node struct {
	fsys       fs.FS
	path       string // path inside fsys
	name       string
	parentPath string
	dir        bool
}

var _ ix.Node = (*Node)(nil)

// Open returns the node for a local file or directory
func Open(p string) (*Node, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", p)
	}
	return New(os.DirFS(filepath.Dir(abs)), filepath.Base(abs))
}

// New returns the node at name inside fsys. It is the source root: its parent path is empty.
func New(fsys fs.FS, name string) (*Node, error) {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WithHint(errors.NewNotFoundError("source %s does not exist", name), "check the source path")
		}
		return nil, errors.Wrapf(err, "stat %s", name)
	}
	base := path.Base(name)
	if base == "." {
		base = "root"
	}
	return &Node{fsys: fsys, path: name, name: base, dir: info.IsDir()}, nil
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) ParentPath() string {
	return n.parentPath
}

func (n *Node) IsContainer() bool {
	return n.dir
}

func (n *Node) Children(ctx context.Context) iter.Seq2[ix.Node, error] {
	return func(yield func(ix.Node, error) bool) {
		if !n.dir {
			return
		}
		entries, err := fs.ReadDir(n.fsys, n.path)
		if err != nil {
			yield(nil, errors.Wrapf(err, "read directory %s", n.path))
			return
		}

		self := ix.NodePath(n)
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if skip(e) {
				continue
			}
			child := &Node{
				fsys:       n.fsys,
				path:       path.Join(n.path, e.Name()),
				name:       e.Name(),
				parentPath: self,
				dir:        e.IsDir(),
			}
			if !yield(child, nil) {
				return
			}
		}
	}
}

func skip(e fs.DirEntry) bool {
	name := e.Name()
	if strings.HasPrefix(name, ".") {
		return true
	}
	if !e.IsDir() && strings.HasSuffix(name, SidecarSuffix) {
		return true
	}
	// Sockets, devices and dangling links are not content
	return !e.IsDir() && !e.Type().IsRegular() && e.Type()&fs.ModeSymlink == 0
}

// Payload reads the file and merges its sidecar properties
func (n *Node) Payload(ctx context.Context) (*ix.Payload, error) {
	if n.dir {
		return nil, nil
	}
	content, err := fs.ReadFile(n.fsys, n.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", n.path)
	}

	props, err := n.sidecar()
	if err != nil {
		return nil, err
	}
	if info, err := fs.Stat(n.fsys, n.path); err == nil {
		props[PropSize] = info.Size()
		props[PropModified] = info.ModTime().UTC().Format(time.RFC3339)
	}
	return &ix.Payload{Name: n.name, Content: content, Properties: props}, nil
}

// sidecar decodes "<file>.props.yaml" when present
func (n *Node) sidecar() (map[string]any, error) {
	props := map[string]any{}
	data, err := fs.ReadFile(n.fsys, n.path+SidecarSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return props, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read properties of %s", n.path)
	}
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, errors.WithHintf(
			errors.Wrapf(err, "parse %s%s", n.path, SidecarSuffix),
			"%s must be a YAML mapping", n.name+SidecarSuffix)
	}
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
}
