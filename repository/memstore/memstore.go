// Package memstore is an in-memory transactional repository.
// Writes are staged per unit-of-work and applied atomically on commit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

// StoredDoc is a committed document
type StoredDoc struct {
	ix.Document
	ID int64
	// Version counts commits that wrote this path
	Version int
}

// CommitHook inspects the writes of a unit-of-work about to commit.
// A non-nil error fails the commit.
type CommitHook func(pending []ix.Document) error

// Store is an in-memory ix.Repository
type Store struct {
	mu     sync.RWMutex
	docs   map[string]*StoredDoc
	nextID atomic.Int64
	hook   CommitHook

	commits   atomic.Int64
	rollbacks atomic.Int64
}

var _ ix.Repository = (*Store)(nil)

func New() *Store {
	return &Store{docs: make(map[string]*StoredDoc)}
}

// SetCommitHook installs h for subsequent commits (nil removes it)
func (s *Store) SetCommitHook(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Begin opens a unit-of-work that expires after timeout (0 = never)
func (s *Store) Begin(ctx context.Context, timeout time.Duration) (ix.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "begin unit of work")
	}
	uow := &unitOfWork{store: s, pending: make(map[string]*StoredDoc)}
	if timeout > 0 {
		uow.deadline = time.Now().Add(timeout)
	}
	return uow, nil
}

// Get returns the committed document at path
func (s *Store) Get(path string) (StoredDoc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	if !ok {
		return StoredDoc{}, false
	}
	return *d, true
}

// Len returns the number of committed documents
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// CountKind returns the number of committed documents of kind k
func (s *Store) CountKind(k ix.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.docs {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// Paths returns every committed path, sorted
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Documents returns copies of every committed document, sorted by path
func (s *Store) Documents() []StoredDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredDoc, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Store) Commits() int64 {
	return s.commits.Load()
}

func (s *Store) Rollbacks() int64 {
	return s.rollbacks.Load()
}

type unitOfWork struct {
	store        *Store
	deadline     time.Time
	pending      map[string]*StoredDoc
	order        []string
	rollbackOnly bool
	closed       bool
}

func (u *unitOfWork) expired() bool {
	return !u.deadline.IsZero() && time.Now().After(u.deadline)
}

func (u *unitOfWork) Persist(ctx context.Context, doc *ix.Document) (ix.DocRef, error) {
	if u.closed {
		return ix.DocRef{}, errors.ErrUnitOfWorkClosed
	}
	if u.expired() {
		return ix.DocRef{}, errors.Wrap(errors.ErrTimeout, "unit of work expired")
	}
	if err := ctx.Err(); err != nil {
		return ix.DocRef{}, err
	}
	if doc.Path == "" || doc.Path == "/" {
		return ix.DocRef{}, errors.NewInvalidRequestError("document %q has no path", doc.Name)
	}

	if !doc.Parent.IsRoot() {
		if _, ok, _ := u.Lookup(ctx, doc.Parent.Path); !ok {
			return ix.DocRef{}, errors.NewNotFoundError("parent %s of %s not found", doc.Parent.Path, doc.Path)
		}
	}

	var id int64
	if p, ok := u.pending[doc.Path]; ok {
		id = p.ID
	} else {
		u.store.mu.RLock()
		existing, ok := u.store.docs[doc.Path]
		u.store.mu.RUnlock()
		if ok {
			id = existing.ID
		} else {
			id = u.store.nextID.Add(1)
		}
		u.order = append(u.order, doc.Path)
	}

	u.pending[doc.Path] = &StoredDoc{Document: *doc, ID: id}
	return ix.DocRef{ID: id, Path: doc.Path}, nil
}

func (u *unitOfWork) Lookup(ctx context.Context, path string) (ix.DocRef, bool, error) {
	if u.closed {
		return ix.DocRef{}, false, errors.ErrUnitOfWorkClosed
	}
	if p, ok := u.pending[path]; ok {
		return ix.DocRef{ID: p.ID, Path: path}, true, nil
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	if d, ok := u.store.docs[path]; ok {
		return ix.DocRef{ID: d.ID, Path: path}, true, nil
	}
	return ix.DocRef{}, false, nil
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
	if u.rollbackOnly {
		u.discard()
		return errors.Mark(errors.New("unit of work marked rollback-only"), errors.ErrCommit)
	}
	if u.expired() {
		u.discard()
		return errors.Mark(errors.Wrap(errors.ErrTimeout, "unit of work expired before commit"), errors.ErrCommit)
	}

	writes := make([]ix.Document, 0, len(u.order))
	for _, p := range u.order {
		writes = append(writes, u.pending[p].Document)
	}

	u.store.mu.Lock()
	hook := u.store.hook
	if hook != nil {
		if err := hook(writes); err != nil {
			u.store.mu.Unlock()
			u.discard()
			return errors.Mark(errors.Wrap(err, "commit"), errors.ErrCommit)
		}
	}
	for _, p := range u.order {
		doc := u.pending[p]
		if existing, ok := u.store.docs[p]; ok {
			doc.Version = existing.Version + 1
		} else {
			doc.Version = 1
		}
		u.store.docs[p] = doc
	}
	u.store.mu.Unlock()

	u.closed = true
	u.pending = nil
	u.store.commits.Add(1)
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.closed {
		return errors.ErrUnitOfWorkClosed
	}
	u.discard()
	return nil
}

func (u *unitOfWork) discard() {
	u.closed = true
	u.pending = nil
	u.order = nil
	u.store.rollbacks.Add(1)
}
