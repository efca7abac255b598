// Package sqlstore persists import documents in the SQLite documents table.
// Each unit-of-work is one database transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/db"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

const upsertDocumentQuery = `
INSERT INTO documents (parent_id, path, name, kind, content_name, content, mime_type, properties, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	parent_id = excluded.parent_id,
	name = excluded.name,
	kind = excluded.kind,
	content_name = excluded.content_name,
	content = excluded.content,
	mime_type = excluded.mime_type,
	properties = excluded.properties,
	created_by = excluded.created_by,
	updated_at = excluded.updated_at
RETURNING id`

const selectDocumentQuery = `
SELECT d.id, COALESCE(p.id, 0), COALESCE(p.path, ''), d.path, d.name, d.kind,
	COALESCE(d.content_name, ''), d.content, COALESCE(d.mime_type, ''), d.properties, COALESCE(d.created_by, '')
FROM documents d
LEFT JOIN documents p ON p.id = d.parent_id
WHERE d.path = ?`

// Store is an ix.Repository backed by database/sql
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

var _ ix.Repository = (*Store)(nil)

func New(database *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: database, logger: logger}
}

// Begin starts a transaction. The transaction outlives cancellation of ctx
// but is rolled back by database/sql once timeout elapses (0 = no limit).
func (s *Store) Begin(ctx context.Context, timeout time.Duration) (ix.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "begin unit of work")
	}

	base := context.WithoutCancel(ctx)
	var (
		txCtx  context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		txCtx, cancel = context.WithTimeout(base, timeout)
	} else {
		txCtx, cancel = context.WithCancel(base)
	}

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		cancel()
		return nil, classify(errors.Wrap(err, "begin transaction"))
	}
	return &unitOfWork{store: s, tx: tx, txCtx: txCtx, cancel: cancel}, nil
}

// Count returns the number of committed documents
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count documents")
	}
	return n, nil
}

// CountKind returns the number of committed documents of kind k
func (s *Store) CountKind(ctx context.Context, k ix.Kind) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE kind = ?`, string(k)).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s documents", k)
	}
	return n, nil
}

// Get loads the committed document at path
func (s *Store) Get(ctx context.Context, path string) (ix.Document, int64, error) {
	var (
		id, parentID      int64
		parentPath, props string
		kind              string
		doc               ix.Document
	)
	err := s.db.QueryRowContext(ctx, selectDocumentQuery, path).Scan(
		&id, &parentID, &parentPath, &doc.Path, &doc.Name, &kind,
		&doc.ContentName, &doc.Content, &doc.MimeType, &props, &doc.CreatedBy)
	if err == sql.ErrNoRows {
		return ix.Document{}, 0, errors.NewNotFoundError("document %s not found", path)
	}
	if err != nil {
		return ix.Document{}, 0, errors.Wrapf(err, "get document %s", path)
	}
	doc.Kind = ix.Kind(kind)
	doc.Parent = ix.DocRef{ID: parentID, Path: parentPath}
	if props != "" && props != "{}" {
		if err := json.Unmarshal([]byte(props), &doc.Properties); err != nil {
			return ix.Document{}, 0, errors.Wrapf(err, "decode properties of %s", path)
		}
	}
	return doc, id, nil
}

// Children lists the committed paths directly under path ("/" for the root)
func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if strings.Trim(path, "/") == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM documents WHERE parent_id IS NULL ORDER BY path`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT c.path FROM documents c JOIN documents p ON p.id = c.parent_id WHERE p.path = ? ORDER BY c.path`, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list children of %s", path)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scan child path")
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

type unitOfWork struct {
	store        *Store
	tx           *sql.Tx
	txCtx        context.Context
	cancel       context.CancelFunc
	rollbackOnly bool
	closed       bool
}

func (u *unitOfWork) Persist(ctx context.Context, doc *ix.Document) (ix.DocRef, error) {
	if u.closed {
		return ix.DocRef{}, errors.ErrUnitOfWorkClosed
	}
	if err := ctx.Err(); err != nil {
		return ix.DocRef{}, err
	}
	if doc.Path == "" || doc.Path == "/" {
		return ix.DocRef{}, errors.NewInvalidRequestError("document %q has no path", doc.Name)
	}

	var parentID sql.NullInt64
	if !doc.Parent.IsRoot() {
		id := doc.Parent.ID
		if id == 0 {
			ref, ok, err := u.Lookup(ctx, doc.Parent.Path)
			if err != nil {
				return ix.DocRef{}, err
			}
			if !ok {
				return ix.DocRef{}, errors.NewNotFoundError("parent %s of %s not found", doc.Parent.Path, doc.Path)
			}
			id = ref.ID
		}
		parentID = sql.NullInt64{Int64: id, Valid: true}
	}

	props := "{}"
	if len(doc.Properties) > 0 {
		b, err := json.Marshal(doc.Properties)
		if err != nil {
			return ix.DocRef{}, errors.Wrapf(err, "encode properties of %s", doc.Path)
		}
		props = string(b)
	}

	now := time.Now().UTC()
	var id int64
	err := u.tx.QueryRowContext(ctx, upsertDocumentQuery,
		parentID,
		doc.Path,
		doc.Name,
		string(doc.Kind),
		nullString(doc.ContentName),
		doc.Content,
		nullString(doc.MimeType),
		props,
		nullString(doc.CreatedBy),
		now,
		now,
	).Scan(&id)
	if err != nil {
		return ix.DocRef{}, u.failure(errors.Wrapf(err, "persist %s", doc.Path))
	}
	return ix.DocRef{ID: id, Path: doc.Path}, nil
}

func (u *unitOfWork) Lookup(ctx context.Context, path string) (ix.DocRef, bool, error) {
	if u.closed {
		return ix.DocRef{}, false, errors.ErrUnitOfWorkClosed
	}
	var id int64
	err := u.tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return ix.DocRef{}, false, nil
	}
	if err != nil {
		return ix.DocRef{}, false, u.failure(errors.Wrapf(err, "lookup %s", path))
	}
	return ix.DocRef{ID: id, Path: path}, true, nil
}

func (u *unitOfWork) SetRollbackOnly() {
	u.rollbackOnly = true
}

func (u *unitOfWork) IsRollbackOnly() bool {
	return u.rollbackOnly
}

func (u *unitOfWork) Commit() error {
	if u.closed {
		return errors.ErrUnitOfWorkClosed
	}
	u.closed = true
	defer u.cancel()

	if u.rollbackOnly {
		u.rollback()
		return errors.Mark(errors.New("unit of work marked rollback-only"), errors.ErrCommit)
	}
	if err := u.tx.Commit(); err != nil {
		return errors.Mark(u.failure(errors.Wrap(err, "commit")), errors.ErrCommit)
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.closed {
		return errors.ErrUnitOfWorkClosed
	}
	u.closed = true
	defer u.cancel()
	return u.rollback()
}

func (u *unitOfWork) rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		u.store.logger.Warnw("Rollback failed", "error", err)
		return errors.Wrap(err, "rollback")
	}
	return nil
}

// failure attaches what the caller can act on: an expired transaction, a held lock or a constraint
func (u *unitOfWork) failure(err error) error {
	if errors.Is(u.txCtx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Wrap(err, "unit of work expired"), errors.ErrTimeout)
	}
	return classify(err)
}

func classify(err error) error {
	switch {
	case db.IsBusy(err):
		return errors.WithHint(err, "another writer holds the database lock; raise database.busy_timeout_ms or lower the thread count")
	case db.IsConstraint(err):
		return errors.Mark(err, errors.ErrInvalidRequest)
	case db.IsDatabaseClosed(err):
		return errors.Mark(err, db.ErrDatabaseClosed)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
