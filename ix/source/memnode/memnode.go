// Package memnode builds in-memory source trees.
// It backs dry runs and every engine test that needs a tree of known shape.
package memnode

import (
	"context"
	"fmt"
	"iter"

	"github.com/teranos/ixbulk/ix"
)

// Node is an in-memory container or leaf
type Node struct {
	name      string
	parent    *Node
	container bool
	children  []*Node
	payload   *ix.Payload
	childErr  error
}

var _ ix.Node = (*Node)(nil)

// Dir creates a container holding children in order
func Dir(name string, children ...*Node) *Node {
	n := &Node{name: name, container: true}
	for _, c := range children {
		n.Add(c)
	}
	return n
}

// File creates a leaf with content and properties
func File(name string, content []byte, props map[string]any) *Node {
	return &Node{
		name:    name,
		payload: &ix.Payload{Name: name, Content: content, Properties: props},
	}
}

// Text creates a leaf with string content and no properties
func Text(name, content string) *Node {
	return File(name, []byte(content), nil)
}

// Add appends child to a container and returns n
func (n *Node) Add(child *Node) *Node {
	child.parent = n
	n.children = append(n.children, child)
	return n
}

// FailChildren makes Children yield err after the existing children
func (n *Node) FailChildren(err error) *Node {
	n.childErr = err
	return n
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) ParentPath() string {
	if n.parent == nil {
		return ""
	}
	return ix.NodePath(n.parent)
}

func (n *Node) IsContainer() bool {
	return n.container
}

func (n *Node) Children(ctx context.Context) iter.Seq2[ix.Node, error] {
	return func(yield func(ix.Node, error) bool) {
		for _, c := range n.children {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if n.childErr != nil {
			yield(nil, n.childErr)
		}
	}
}

func (n *Node) Payload(ctx context.Context) (*ix.Payload, error) {
	return n.payload, nil
}

// Synthetic builds a tree of the given depth where every container has breadth children.
// Containers at depth 1 hold breadth leaves, so the tree has breadth^depth leaves.
func Synthetic(name string, depth, breadth int) *Node {
	if depth <= 0 {
		return Text(name, "synthetic "+name)
	}
	dir := Dir(name)
	for i := 0; i < breadth; i++ {
		child := fmt.Sprintf("%s-%d", name, i)
		if depth == 1 {
			child = fmt.Sprintf("leaf-%d.txt", i)
		}
		dir.Add(Synthetic(child, depth-1, breadth))
	}
	return dir
}

// LeafCount returns the number of leaves under n (n itself if it is a leaf)
func LeafCount(n *Node) int {
	if !n.container {
		return 1
	}
	total := 0
	for _, c := range n.children {
		total += LeafCount(c)
	}
	return total
}

// Count returns the number of nodes under and including n
func Count(n *Node) int {
	total := 1
	for _, c := range n.children {
		total += Count(c)
	}
	return total
}

// Walk visits n and its descendants depth-first, parents before children
func Walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		Walk(c, fn)
	}
}
