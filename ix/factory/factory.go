// Package factory is the default node-to-document mapping.
package factory

import (
	"context"
	"maps"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// PropMimeType lets a source override content sniffing
const PropMimeType = "mime_type"

// Options constrain what the factory accepts
type Options struct {
	// MaxContentBytes rejects larger leaves; 0 = unlimited
	MaxContentBytes int64
}

// Factory maps containers to container documents and leaves to documents carrying their payload
type Factory struct {
	opts   Options
	logger *zap.SugaredLogger
}

var _ ix.Factory = (*Factory)(nil)

func New(opts Options, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{opts: opts, logger: logger}
}

func (f *Factory) CreateContainer(ctx context.Context, uow ix.UnitOfWork, parent ix.DocRef, node ix.Node) (ix.DocRef, error) {
	if err := validName(node.Name()); err != nil {
		return ix.DocRef{}, err
	}

	doc := &ix.Document{
		Parent:    parent,
		Name:      node.Name(),
		Path:      ix.JoinPath(parent.Path, node.Name()),
		Kind:      ix.KindContainer,
		CreatedBy: ix.WorkerIDFromContext(ctx),
	}
	return uow.Persist(ctx, doc)
}

func (f *Factory) CreateLeaf(ctx context.Context, uow ix.UnitOfWork, parent ix.DocRef, node ix.Node) (ix.DocRef, error) {
	if err := validName(node.Name()); err != nil {
		return ix.DocRef{}, err
	}

	payload, err := node.Payload(ctx)
	if err != nil {
		return ix.DocRef{}, errors.Wrapf(err, "read payload of %s", node.Name())
	}
	if payload == nil {
		return ix.DocRef{}, errors.Newf("leaf %s has no payload", node.Name())
	}
	if f.opts.MaxContentBytes > 0 && int64(len(payload.Content)) > f.opts.MaxContentBytes {
		return ix.DocRef{}, errors.WithHintf(
			errors.Newf("leaf %s is %d bytes, limit is %d", node.Name(), len(payload.Content), f.opts.MaxContentBytes),
			"raise the content limit or exclude the file")
	}

	props := maps.Clone(payload.Properties)
	mime, _ := props[PropMimeType].(string)
	if mime == "" {
		mime = http.DetectContentType(payload.Content)
	}
	delete(props, PropMimeType)

	contentName := payload.Name
	if contentName == "" {
		contentName = node.Name()
	}

	doc := &ix.Document{
		Parent:      parent,
		Name:        node.Name(),
		Path:        ix.JoinPath(parent.Path, node.Name()),
		Kind:        ix.KindLeaf,
		ContentName: contentName,
		Content:     payload.Content,
		MimeType:    mime,
		Properties:  props,
		CreatedBy:   ix.WorkerIDFromContext(ctx),
	}

	ref, err := uow.Persist(ctx, doc)
	if err != nil {
		return ix.DocRef{}, err
	}
	f.logger.Debugw("Leaf mapped", "path", doc.Path, "mime_type", mime, "bytes", len(payload.Content))
	return ref, nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Newf("invalid node name %q", name)
	case strings.ContainsRune(name, '/'):
		return errors.Newf("node name %q contains a path separator", name)
	}
	return nil
}
