package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across ixbulk.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity
	FieldJobID    = "job_id"
	FieldTaskID   = "task_id"
	FieldWorkerID = "worker_id"
	FieldConsumer = "consumer"

	// Components
	FieldComponent = "component"

	// Source and target
	FieldPath    = "path"
	FieldDocPath = "doc_path" // document written while a task logs under FieldPath
	FieldSource  = "source"
	FieldTarget  = "target"
	FieldMode    = "mode"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldElapsed    = "elapsed"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount      = "count"
	FieldBatchSize  = "batch_size"
	FieldDocs       = "docs"
	FieldDocsPerSec = "docs_per_sec"
	FieldQueued     = "queued"
	FieldActive     = "active"
	FieldThreads    = "threads"

	// Status
	FieldStatus = "status"
	FieldState  = "state"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base decorated with fields carried by ctx.
// A nil base falls back to the global Logger.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	importer := fork.NewImporter(cfg, repo, factory, logger.ComponentLogger("fork"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
