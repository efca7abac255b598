package ix

import (
	"context"
	"strings"
	"time"

	"github.com/teranos/ixbulk/errors"
)

// Mapper writes one node inside uow. Pipeline consumers call it for every node.
type Mapper interface {
	Map(ctx context.Context, uow UnitOfWork, node Node) (DocRef, error)
}

// MapperFunc adapts a function to Mapper
type MapperFunc func(ctx context.Context, uow UnitOfWork, node Node) (DocRef, error)

func (f MapperFunc) Map(ctx context.Context, uow UnitOfWork, node Node) (DocRef, error) {
	return f(ctx, uow, node)
}

// PathMapper places each node under Root by its source path. The parent document
// is found by path in the unit-of-work, so parents must be mapped before children.
type PathMapper struct {
	Factory Factory
	Root    DocRef
}

func (m PathMapper) Map(ctx context.Context, uow UnitOfWork, node Node) (DocRef, error) {
	parent := m.Root
	if pp := strings.Trim(node.ParentPath(), "/"); pp != "" {
		target := JoinPath(m.Root.Path, pp)
		ref, ok, err := uow.Lookup(ctx, target)
		if err != nil {
			return DocRef{}, NewMappingError(NodePath(node), errors.Wrapf(err, "lookup parent %s", target))
		}
		if !ok {
			return DocRef{}, NewMappingError(NodePath(node), errors.NewNotFoundError("parent %s not found", target))
		}
		parent = ref
	}
	return Create(ctx, m.Factory, uow, parent, node)
}

// ResolveTarget returns the container at target, creating missing containers along the way.
// An empty target or "/" is the repository root.
func ResolveTarget(ctx context.Context, repo Repository, target string, timeout time.Duration) (DocRef, error) {
	target = strings.Trim(target, "/")
	if target == "" {
		return DocRef{}, nil
	}

	uow, err := repo.Begin(ctx, timeout)
	if err != nil {
		return DocRef{}, errors.Wrap(err, "begin unit of work")
	}

	current := DocRef{}
	for _, segment := range strings.Split(target, "/") {
		if segment == "" {
			continue
		}
		p := JoinPath(current.Path, segment)

		ref, ok, err := uow.Lookup(ctx, p)
		if err != nil {
			uow.Rollback()
			return DocRef{}, errors.Wrapf(err, "lookup %s", p)
		}
		if !ok {
			ref, err = uow.Persist(ctx, &Document{
				Parent:    current,
				Name:      segment,
				Path:      p,
				Kind:      KindContainer,
				CreatedBy: WorkerIDFromContext(ctx),
			})
			if err != nil {
				uow.Rollback()
				return DocRef{}, errors.Wrapf(err, "create target container %s", p)
			}
		}
		current = ref
	}

	if err := uow.Commit(); err != nil {
		return DocRef{}, errors.Mark(errors.Wrapf(err, "commit target %s", target), errors.ErrCommit)
	}
	return current, nil
}
