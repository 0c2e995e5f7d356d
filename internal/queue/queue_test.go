package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrivosheev/passrelay/internal/errs"
)

type fakeStore struct {
	inserted []string
	deleted  []string

	insertErr error
	deleteErr error
}

func (f *fakeStore) InsertCode(_ context.Context, code string) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	f.inserted = append(f.inserted, code)
	return true, nil
}

func (f *fakeStore) DeleteCode(_ context.Context, code string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, code)
	return nil
}

func TestPut_DedupAndPersist(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	ctx := context.Background()

	added, err := m.Put(ctx, "alpha1")
	require.NoError(t, err)
	require.True(t, added)

	added, err = m.Put(ctx, "alpha1")
	require.NoError(t, err)
	require.False(t, added)

	require.Equal(t, []string{"alpha1"}, store.inserted)
	require.Equal(t, 1, m.Len())
}

func TestPut_StoreFailureDoesNotMirror(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	m := New(store)

	_, err := m.Put(context.Background(), "alpha1")
	require.Error(t, err)
	require.Equal(t, 0, m.Len())
}

func TestWarm_SkipsPersistence(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	m.Warm("alpha1")
	m.Warm("alpha1")

	require.Empty(t, store.inserted)
	require.Equal(t, 1, m.Len())
}

func TestPop_RequiresPeek(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	ctx := context.Background()

	_, err := m.Put(ctx, "alpha1")
	require.NoError(t, err)

	_, err = m.Pop(ctx)
	require.ErrorIs(t, err, errs.ErrNotFetched)

	head, err := m.Peek()
	require.NoError(t, err)
	require.Equal(t, "alpha1", head)

	popped, err := m.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "alpha1", popped)
	require.Equal(t, []string{"alpha1"}, store.deleted)

	// the fetched flag is consumed: a second pop needs a fresh peek
	_, err = m.Pop(ctx)
	require.ErrorIs(t, err, errs.ErrNotFetched)
}

func TestPeekPop_FIFOOrder(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	ctx := context.Background()

	for _, c := range []string{"one11", "two22", "three33"} {
		_, err := m.Put(ctx, c)
		require.NoError(t, err)
	}

	for _, want := range []string{"one11", "two22", "three33"} {
		head, err := m.Peek()
		require.NoError(t, err)
		require.Equal(t, want, head)

		popped, err := m.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, want, popped)
	}

	_, err := m.Peek()
	require.ErrorIs(t, err, errs.ErrNoCode)
}

func TestRemove_DropsCodeAndVoidsFetch(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	ctx := context.Background()

	for _, c := range []string{"one11", "two22", "three33"} {
		_, err := m.Put(ctx, c)
		require.NoError(t, err)
	}

	// removing the peeked head voids the pending fetch
	head, err := m.Peek()
	require.NoError(t, err)
	require.Equal(t, "one11", head)
	m.Remove("one11")
	_, err = m.Pop(ctx)
	require.ErrorIs(t, err, errs.ErrNotFetched)

	// removal is memory-only; the store saw no delete
	require.Empty(t, store.deleted)

	// a mid-queue removal keeps the remaining order
	m.Remove("three33")
	m.Remove("absent99")
	head, err = m.Peek()
	require.NoError(t, err)
	require.Equal(t, "two22", head)
	require.Equal(t, 1, m.Len())

	// a removed code may be put again
	added, err := m.Put(ctx, "one11")
	require.NoError(t, err)
	require.True(t, added)
}

func TestPop_DeleteFailureKeepsHead(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	ctx := context.Background()

	_, err := m.Put(ctx, "alpha1")
	require.NoError(t, err)

	store.deleteErr = errors.New("io error")
	_, err = m.Peek()
	require.NoError(t, err)
	_, err = m.Pop(ctx)
	require.Error(t, err)

	// head survives a failed durable delete
	store.deleteErr = nil
	head, err := m.Peek()
	require.NoError(t, err)
	require.Equal(t, "alpha1", head)
}
