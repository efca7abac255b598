package ix

import (
	"context"
	"time"
)

// Repository opens units of work against the target store
type Repository interface {
	// Begin opens a unit-of-work whose lifetime is bounded by timeout
	Begin(ctx context.Context, timeout time.Duration) (UnitOfWork, error)
}

// UnitOfWork is one transactional session. It is owned by a single goroutine.
// After Commit or Rollback every call returns errors.ErrUnitOfWorkClosed.
type UnitOfWork interface {
	// Persist creates or updates the document at doc.Path
	Persist(ctx context.Context, doc *Document) (DocRef, error)
	// Lookup finds a document by path, including writes pending in this unit-of-work
	Lookup(ctx context.Context, path string) (DocRef, bool, error)
	SetRollbackOnly()
	IsRollbackOnly() bool
	// Commit makes pending writes durable. A rollback-only unit-of-work is rolled back
	// and Commit returns an error marked errors.ErrCommit.
	Commit() error
	Rollback() error
}
