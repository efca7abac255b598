package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

const jobColumns = `id, name, mode, source, target, status, documents_created, nodes_processed,
	failures, stats, error, created_at, started_at, completed_at, updated_at`

// Store persists jobs in the import_jobs and import_failures tables
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new job
func (s *Store) Create(ctx context.Context, job *Job) error {
	stats, err := marshalStats(job.Stats)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Name,
		string(job.Mode),
		job.Source,
		job.Target,
		string(job.Status),
		job.DocumentsCreated,
		job.NodesProcessed,
		job.Failures,
		stats,
		nullString(job.Error),
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// Update writes the job's mutable fields
func (s *Store) Update(ctx context.Context, job *Job) error {
	stats, err := marshalStats(job.Stats)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = ?,
		    documents_created = ?,
		    nodes_processed = ?,
		    failures = ?,
		    stats = ?,
		    error = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		string(job.Status),
		job.DocumentsCreated,
		job.NodesProcessed,
		job.Failures,
		stats,
		nullString(job.Error),
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("job not found: %s", job.ID)
	}
	return nil
}

// UpdateProgress stores running counters without touching the status
func (s *Store) UpdateProgress(ctx context.Context, id string, documents, processed int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET documents_created = ?, nodes_processed = ?, updated_at = ? WHERE id = ?`,
		documents, processed, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update progress of job %s", id)
	}
	return nil
}

// Get retrieves a job by ID
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, status *Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordFailures stores node failures for a job in one transaction
func (s *Store) RecordFailures(ctx context.Context, jobID string, failures []ix.ImportError) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin failure batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO import_failures (job_id, worker, path, kind, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare failure insert")
	}
	defer stmt.Close()

	for _, f := range failures {
		msg := "unknown failure"
		if f.Err != nil {
			msg = f.Err.Error()
		}
		at := f.Time
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, jobID, f.Worker, f.Path, string(f.Kind), msg, at.UTC()); err != nil {
			return errors.Wrapf(err, "failed to record failure at %s", f.Path)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit failure batch")
	}
	return nil
}

// ListFailures returns a job's failures in the order they were recorded. limit <= 0 means no limit.
func (s *Store) ListFailures(ctx context.Context, jobID string, limit int) ([]Failure, error) {
	query := `SELECT id, job_id, worker, path, kind, error, created_at FROM import_failures WHERE job_id = ? ORDER BY id`
	args := []interface{}{jobID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list failures of job %s", jobID)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.JobID, &f.Worker, &f.Path, &f.Kind, &f.Error, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan failure")
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Delete removes a job and, through the foreign key, its failures
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM import_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                    Job
		mode, status, stats    string
		errMsg                 sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.Name,
		&mode,
		&job.Source,
		&job.Target,
		&status,
		&job.DocumentsCreated,
		&job.NodesProcessed,
		&job.Failures,
		&stats,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Mode = Mode(mode)
	job.Status = Status(status)
	job.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if stats != "" && stats != "{}" {
		if err := json.Unmarshal([]byte(stats), &job.Stats); err != nil {
			return nil, errors.Wrapf(err, "failed to decode stats of job %s", job.ID)
		}
	}
	return &job, nil
}

func marshalStats(stats map[string]int64) (string, error) {
	if len(stats) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal job stats")
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
