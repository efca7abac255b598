// Package gitnode exposes the tree of a git commit as import source nodes.
// Trees are containers, blobs are leaves; submodules are skipped.
package gitnode

import (
	"context"
	"io"
	"iter"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// Property keys set on every leaf
const (
	PropBlob   = "git_blob"
	PropMode   = "git_mode"
	PropCommit = "git_commit"
)

// Node is one tree or blob of a commit
type Node struct {
	repo       *git.Repository
	commit     plumbing.Hash
	hash       plumbing.Hash
	mode       filemode.FileMode
	name       string
	parentPath string
}

var _ ix.Node = (*Node)(nil)

// Open returns the root tree of revision in the repository at path. An empty revision means HEAD.
func Open(path, revision string) (*Node, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.WithHint(errors.Wrapf(err, "open git repository %s", path),
			"gitnode sources need a local clone; remote URLs are fetched first")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return FromRepository(repo, filepath.Base(abs), revision)
}

// FromRepository returns the root tree of revision, named name
func FromRepository(repo *git.Repository, name, revision string) (*Node, error) {
	if revision == "" {
		revision = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve revision %s", revision)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, errors.Wrapf(err, "load commit %s", hash)
	}
	return &Node{
		repo:   repo,
		commit: commit.Hash,
		hash:   commit.TreeHash,
		mode:   filemode.Dir,
		name:   name,
	}, nil
}

// Commit returns the hash of the commit the tree belongs to
func (n *Node) Commit() string {
	return n.commit.String()
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) ParentPath() string {
	return n.parentPath
}

func (n *Node) IsContainer() bool {
	return n.mode == filemode.Dir
}

func (n *Node) Children(ctx context.Context) iter.Seq2[ix.Node, error] {
	return func(yield func(ix.Node, error) bool) {
		if !n.IsContainer() {
			return
		}
		tree, err := n.repo.TreeObject(n.hash)
		if err != nil {
			yield(nil, errors.Wrapf(err, "load tree %s", n.hash))
			return
		}

		self := ix.NodePath(n)
		for _, e := range tree.Entries {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if e.Mode == filemode.Submodule {
				continue
			}
			child := &Node{
				repo:       n.repo,
				commit:     n.commit,
				hash:       e.Hash,
				mode:       e.Mode,
				name:       e.Name,
				parentPath: self,
			}
			if !yield(child, nil) {
				return
			}
		}
	}
}

// Payload reads the blob. Symlinks carry their target as content.
func (n *Node) Payload(ctx context.Context) (*ix.Payload, error) {
	if n.IsContainer() {
		return nil, nil
	}
	blob, err := n.repo.BlobObject(n.hash)
	if err != nil {
		return nil, errors.Wrapf(err, "load blob %s", n.hash)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, errors.Wrapf(err, "open blob %s", n.hash)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read blob %s", n.hash)
	}
	return &ix.Payload{
		Name:    n.name,
		Content: content,
		Properties: map[string]any{
			PropBlob:   n.hash.String(),
			PropMode:   n.mode.String(),
			PropCommit: n.commit.String(),
		},
	}, nil
}
