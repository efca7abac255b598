package ix

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/ixbulk/errors"
)

// Factory maps one source node to one repository write.
// Any error is treated by the engines as a failure of that node alone.
type Factory interface {
	CreateContainer(ctx context.Context, uow UnitOfWork, parent DocRef, node Node) (DocRef, error)
	CreateLeaf(ctx context.Context, uow UnitOfWork, parent DocRef, node Node) (DocRef, error)
}

// MappingError is a single-node failure returned by a Factory or Mapper
type MappingError struct {
	Path string
	Err  error
}

// NewMappingError wraps err as the mapping failure of the node at path.
// An err that already is a *MappingError is returned as is.
func NewMappingError(path string, err error) error {
	var me *MappingError
	if errors.As(err, &me) {
		return err
	}
	return &MappingError{Path: path, Err: err}
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s: %v", e.Path, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Is classifies every MappingError as errors.ErrMapping
func (e *MappingError) Is(target error) bool {
	return target == errors.ErrMapping
}

// Create dispatches node to CreateContainer or CreateLeaf and wraps failures in a MappingError
func Create(ctx context.Context, f Factory, uow UnitOfWork, parent DocRef, node Node) (DocRef, error) {
	var (
		ref DocRef
		err error
	)
	if node.IsContainer() {
		ref, err = f.CreateContainer(ctx, uow, parent, node)
	} else {
		ref, err = f.CreateLeaf(ctx, uow, parent, node)
	}
	if err != nil {
		return DocRef{}, NewMappingError(NodePath(node), err)
	}
	return ref, nil
}

// ErrorKind classifies failures reported to listeners
type ErrorKind string

const (
	ErrorKindMapping ErrorKind = "mapping"
	ErrorKindReplay  ErrorKind = "replay"
	ErrorKindCommit  ErrorKind = "commit"
	ErrorKindPanic   ErrorKind = "panic"
	// ErrorKindAborted reports a subtree left unimported because the job was aborted
	ErrorKindAborted ErrorKind = "aborted"
)

// ImportError describes one failure seen by a worker
type ImportError struct {
	Worker string
	Path   string
	Err    error
	Kind   ErrorKind
	Time   time.Time
}

// Listener receives import failures. Implementations must be safe for concurrent use.
type Listener interface {
	OnImportError(ev ImportError)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ev ImportError)

func (f ListenerFunc) OnImportError(ev ImportError) {
	f(ev)
}

// Progress is a point-in-time view of a running job
type Progress struct {
	JobID         string
	Documents     int64
	Processed     int64
	ActiveWorkers int
	QueuedTasks   int
	Elapsed       time.Duration
	DocsPerSecond float64
}

// ProgressSink receives periodic job progress
type ProgressSink interface {
	OnProgress(p Progress)
}

// ProgressSinks fans progress out to every sink in order
type ProgressSinks []ProgressSink

func (s ProgressSinks) OnProgress(p Progress) {
	for _, sink := range s {
		if sink != nil {
			sink.OnProgress(p)
		}
	}
}
