package pipeline

import (
	"context"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// TreeProducer walks a source tree depth-first, parents before children
type TreeProducer struct {
	Root ix.Node
	// SkipRoot leaves the root container out; its document already exists
	SkipRoot bool
	// Report receives nodes that could not be listed or queued. Nil makes those errors fatal.
	Report func(kind ix.ErrorKind, path string, err error)

	dispatched int64
}

// Dispatched returns the number of nodes queued so far
func (p *TreeProducer) Dispatched() int64 {
	return p.dispatched
}

func (p *TreeProducer) Produce(ctx context.Context, dispatch DispatchFunc) error {
	return p.walk(ctx, p.Root, !p.SkipRoot, dispatch)
}

func (p *TreeProducer) walk(ctx context.Context, node ix.Node, emit bool, dispatch DispatchFunc) error {
	if emit {
		if err := dispatch(ctx, node); err != nil {
			if ctx.Err() != nil {
				return err
			}
			if errors.Is(err, errors.ErrRejected) && p.Report != nil {
				p.Report(ix.ErrorKindAborted, ix.NodePath(node), err)
				return nil
			}
			return errors.Wrapf(err, "dispatch %s", ix.NodePath(node))
		}
		p.dispatched++
	}
	if !node.IsContainer() {
		return nil
	}

	for child, err := range node.Children(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.Report == nil {
				return errors.Wrapf(err, "list children of %s", ix.NodePath(node))
			}
			p.Report(ix.ErrorKindMapping, ix.NodePath(node), ix.NewMappingError(ix.NodePath(node), errors.Wrap(err, "list children")))
			return nil
		}
		if err := p.walk(ctx, child, true, dispatch); err != nil {
			return err
		}
	}
	return nil
}
