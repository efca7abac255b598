package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
)

func container(parent ix.DocRef, name string) *ix.Document {
	return &ix.Document{Parent: parent, Name: name, Path: ix.JoinPath(parent.Path, name), Kind: ix.KindContainer}
}

func TestCommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	s := New()

	uow, err := s.Begin(ctx, time.Minute)
	require.NoError(t, err)

	a, err := uow.Persist(ctx, container(ix.DocRef{}, "A"))
	require.NoError(t, err)
	_, err = uow.Persist(ctx, &ix.Document{Parent: a, Name: "leaf1", Path: "/A/leaf1", Kind: ix.KindLeaf})
	require.NoError(t, err)

	// Pending writes are visible inside the unit-of-work only
	_, ok, err := uow.Lookup(ctx, "/A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, uow.Commit())
	assert.Equal(t, []string{"/A", "/A/leaf1"}, s.Paths())
	assert.Equal(t, 1, s.CountKind(ix.KindLeaf))
	assert.Equal(t, int64(1), s.Commits())
}

func TestRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()

	uow, _ := s.Begin(ctx, 0)
	_, err := uow.Persist(ctx, container(ix.DocRef{}, "A"))
	require.NoError(t, err)
	require.NoError(t, uow.Rollback())

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(1), s.Rollbacks())
}

func TestClosedUnitOfWork(t *testing.T) {
	ctx := context.Background()
	s := New()

	uow, _ := s.Begin(ctx, 0)
	require.NoError(t, uow.Commit())

	_, err := uow.Persist(ctx, container(ix.DocRef{}, "A"))
	assert.ErrorIs(t, err, errors.ErrUnitOfWorkClosed)
	assert.ErrorIs(t, uow.Commit(), errors.ErrUnitOfWorkClosed)
	assert.ErrorIs(t, uow.Rollback(), errors.ErrUnitOfWorkClosed)
	_, _, err = uow.Lookup(ctx, "/A")
	assert.ErrorIs(t, err, errors.ErrUnitOfWorkClosed)
}

func TestRollbackOnlyCommitFails(t *testing.T) {
	ctx := context.Background()
	s := New()

	uow, _ := s.Begin(ctx, 0)
	_, err := uow.Persist(ctx, container(ix.DocRef{}, "A"))
	require.NoError(t, err)
	uow.SetRollbackOnly()
	assert.True(t, uow.IsRollbackOnly())

	err = uow.Commit()
	assert.True(t, errors.IsCommitError(err))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(1), s.Rollbacks())
}

func TestPersistIsUpsertByPath(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, _ := s.Begin(ctx, 0)
	ref1, err := first.Persist(ctx, container(ix.DocRef{}, "A"))
	require.NoError(t, err)
	require.NoError(t, first.Commit())

	second, _ := s.Begin(ctx, 0)
	ref2, err := second.Persist(ctx, container(ix.DocRef{}, "A"))
	require.NoError(t, err)
	require.NoError(t, second.Commit())

	assert.Equal(t, ref1.ID, ref2.ID)
	doc, ok := s.Get("/A")
	require.True(t, ok)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, 1, s.Len())
}

func TestPersistRequiresParent(t *testing.T) {
	ctx := context.Background()
	s := New()

	uow, _ := s.Begin(ctx, 0)
	_, err := uow.Persist(ctx, &ix.Document{Parent: ix.DocRef{ID: 99, Path: "/missing"}, Name: "x", Path: "/missing/x"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCommitHookFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetCommitHook(func(pending []ix.Document) error {
		return errors.New("disk full")
	})

	uow, _ := s.Begin(ctx, 0)
	_, err := uow.Persist(ctx, container(ix.DocRef{}, "A"))
	require.NoError(t, err)

	err = uow.Commit()
	require.Error(t, err)
	assert.True(t, errors.IsCommitError(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, s.Len())
}

func TestExpiredUnitOfWork(t *testing.T) {
	ctx := context.Background()
	s := New()

	uow, _ := s.Begin(ctx, time.Nanosecond)
	time.Sleep(time.Millisecond)

	_, err := uow.Persist(ctx, container(ix.DocRef{}, "A"))
	assert.ErrorIs(t, err, errors.ErrTimeout)
	err = uow.Commit()
	assert.True(t, errors.IsCommitError(err))
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestConcurrentUnitsOfWorkAllocateDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uow, _ := s.Begin(ctx, 0)
			for j := 0; j < 50; j++ {
				name := string(rune('a'+i)) + "-" + string(rune('a'+j%26)) + string(rune('a'+j/26))
				_, err := uow.Persist(ctx, container(ix.DocRef{}, name))
				assert.NoError(t, err)
			}
			assert.NoError(t, uow.Commit())
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, d := range s.Documents() {
		assert.False(t, seen[d.ID], "duplicate id %d", d.ID)
		seen[d.ID] = true
	}
	assert.Equal(t, 400, s.Len())
}
