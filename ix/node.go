package ix

import (
	"context"
	"iter"
	"path"
	"strings"
)

// Node is one item of an external source tree: a container with children or a leaf with a payload.
// Nodes are owned by their tree provider and treated as immutable.
type Node interface {
	Name() string
	// ParentPath is the slash-separated path of the parent inside the source; empty for the source root.
	ParentPath() string
	IsContainer() bool
	// Children yields child nodes in source order. Leaves yield nothing.
	Children(ctx context.Context) iter.Seq2[Node, error]
	// Payload returns the leaf content. Containers may return nil.
	Payload(ctx context.Context) (*Payload, error)
}

// Payload is a leaf's named binary content and its typed properties
type Payload struct {
	Name       string
	Content    []byte
	Properties map[string]any
}

// NodePath returns the absolute source path of n ("/" + parent + name)
func NodePath(n Node) string {
	return JoinPath(n.ParentPath(), n.Name())
}

// JoinPath joins path segments into a clean absolute slash path
func JoinPath(elem ...string) string {
	return path.Join(append([]string{"/"}, elem...)...)
}

// TopSegment returns the first segment of an absolute or relative slash path
func TopSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

// CollectChildren drains n.Children into a slice, stopping at the first error
func CollectChildren(ctx context.Context, n Node) ([]Node, error) {
	var children []Node
	for child, err := range n.Children(ctx) {
		if err != nil {
			return children, err
		}
		children = append(children, child)
	}
	return children, nil
}

// Kind distinguishes the two document shapes
type Kind string

const (
	KindContainer Kind = "container"
	KindLeaf      Kind = "leaf"
)

// DocRef points at a persisted document. The zero DocRef is the repository root.
type DocRef struct {
	ID   int64
	Path string
}

// IsRoot reports whether r is the repository root
func (r DocRef) IsRoot() bool {
	return r.ID == 0 && (r.Path == "" || r.Path == "/")
}

// Document is one repository write produced by a Factory
type Document struct {
	Parent      DocRef
	Name        string
	Path        string
	Kind        Kind
	ContentName string
	Content     []byte
	MimeType    string
	Properties  map[string]any
	// CreatedBy is the task or consumer id that wrote the document
	CreatedBy string
}
