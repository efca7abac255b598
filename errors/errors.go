// Package errors provides error handling for ixbulk.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, wrapping, hints and marks from one import, and declares the
// sentinels the import engine classifies failures with.
//
// Usage:
//
//	if err := uow.Commit(); err != nil {
//	    return errors.Mark(errors.Wrap(err, "commit batch"), errors.ErrCommit)
//	}
//
//	if errors.Is(err, errors.ErrMapping) {
//	    // single-node failure: replay, never fatal
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
	CombineErrors  = crdb.CombineErrors
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors. Wrap them or Mark with them to keep the classification
// while adding context; check with errors.Is.
var (
	// ErrNotFound indicates the requested object does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input (bad config value, bad path)
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates a unit-of-work or poll exceeded its deadline
	ErrTimeout = New("operation timed out")

	// ErrMapping marks a single source node that could not be mapped to a
	// repository write. Recovered at node granularity.
	ErrMapping = New("mapping failed")

	// ErrCommit marks a unit-of-work commit failure. Terminal for the owning
	// worker, never for the job.
	ErrCommit = New("commit failed")

	// ErrRejected is returned when the pool's pending queue cannot take a task.
	// Callers continue in their own goroutine.
	ErrRejected = New("task submission rejected")

	// ErrAborted is returned when a job was asked to stop early
	ErrAborted = New("import aborted")

	// ErrUnitOfWorkClosed is returned by a unit-of-work used after commit/rollback
	ErrUnitOfWorkClosed = New("unit of work already closed")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsMappingError checks if an error is a single-node mapping failure
func IsMappingError(err error) bool {
	return err != nil && Is(err, ErrMapping)
}

// IsCommitError checks if an error is a unit-of-work commit failure
func IsCommitError(err error) bool {
	return err != nil && Is(err, ErrCommit)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
