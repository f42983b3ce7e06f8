package store

import (
	"context"
	"testing"

	"github.com/prevedel-lab/brimfile/store/blob"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(blob.NewMemoryStore())
}

func TestStore_Groups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.OpenGroup(ctx, "/a")
	require.ErrorIs(t, err, ErrNotFound)

	g, err := s.CreateGroup(ctx, "/a/b")
	require.NoError(t, err)
	require.Equal(t, "/a/b", g.Path)

	g, err = s.OpenGroup(ctx, "a/b/")
	require.NoError(t, err)
	require.Equal(t, "/a/b", g.Path)

	ok, err := s.ObjectExists(ctx, "/a/b")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ObjectExists(ctx, "/a/c")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_ListObjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.CreateGroup(ctx, "/root")
	require.NoError(t, err)
	_, err = s.CreateGroup(ctx, "/root/Data_1")
	require.NoError(t, err)
	_, err = s.CreateGroup(ctx, "/root/Data_0")
	require.NoError(t, err)
	// grandchild groups must not appear in the listing of /root
	_, err = s.CreateGroup(ctx, "/root/Data_0/Analysis_results_0")
	require.NoError(t, err)

	names, err := s.ListObjects(ctx, "/root")
	require.NoError(t, err)
	require.Equal(t, []string{"Data_0", "Data_1"}, names)

	names, err = s.ListObjects(ctx, "/root/Data_1")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestStore_Attrs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.CreateGroup(ctx, "/g")
	require.NoError(t, err)

	_, err = s.GetAttr(ctx, "/g", "Name")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetAttr(ctx, "/g", "Name", "water sample"))
	require.NoError(t, s.SetAttr(ctx, "/g", "Sparse", true))

	v, err := s.GetAttr(ctx, "/g", "Name")
	require.NoError(t, err)
	require.Equal(t, "water sample", v)

	// setting a second attribute must not clobber the first
	v, err = s.GetAttr(ctx, "/g", "Sparse")
	require.NoError(t, err)
	require.Equal(t, true, v)

	// JSON typing: numbers come back as float64
	require.NoError(t, s.SetAttr(ctx, "/g", "count", 3))
	v, err = s.GetAttr(ctx, "/g", "count")
	require.NoError(t, err)
	require.Equal(t, float64(3), v)
}
