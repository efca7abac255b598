package ix

import "context"

type contextKey string

const workerIDKey contextKey = "ix_worker_id"

// WithWorkerID tags ctx with the task or consumer id doing the writes
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerIDFromContext returns the id set by WithWorkerID, or ""
func WorkerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workerIDKey).(string)
	return id
}
