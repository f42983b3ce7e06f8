package store

import (
	"context"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/prevedel-lab/brimfile/store/blob"
	"github.com/stretchr/testify/require"
)

func sequence(shape ...int) *sparse.DenseArray {
	arr := sparse.ZerosDense(shape...)
	for i := range arr.Elements {
		arr.Elements[i] = float64(i)
	}
	return arr
}

func TestDataset_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	data := sequence(3, 4, 5)

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		path := ConcatPaths("d", c.id())
		_, err := s.CreateDataset(ctx, path, data, WithCompression(c), WithChunks([]int{2, 3, 5}))
		require.NoError(t, err)

		// Re-open from metadata alone, then read through the chunk grid.
		ds, err := s.OpenDataset(ctx, path)
		require.NoError(t, err)
		require.Equal(t, []int{3, 4, 5}, ds.Shape())
		require.Equal(t, Float64, ds.DType())

		got, err := ds.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, data.Shape, got.Shape)
		require.Equal(t, data.Elements, got.Elements)
	}
}

func TestDataset_OpenMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.OpenDataset(ctx, "/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDatasetInt_KeepsNegativeSentinel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	vol := sparse.ZerosDenseInt(2, 3, 2)
	for i := range vol.Elements {
		vol.Elements[i] = i - 1 // first voxel empty
	}

	ds, err := s.CreateDatasetInt(ctx, "/vol", vol, WithCompression(CompressionZstd))
	require.NoError(t, err)
	// values span [-1, 10]: one signed byte per element
	require.Equal(t, Int8, ds.DType())

	ds, err = s.OpenDataset(ctx, "/vol")
	require.NoError(t, err)

	got, err := ds.ReadInt(ctx)
	require.NoError(t, err)
	require.Equal(t, vol.Shape, got.Shape)
	require.Equal(t, vol.Elements, got.Elements)
	require.Equal(t, -1, got.Get(0, 0, 0))
}

func TestDataset_ReadRegion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	data := sequence(4, 6)

	ds, err := s.CreateDataset(ctx, "/d", data, WithChunks([]int{3, 2}))
	require.NoError(t, err)

	// region spanning several chunks
	got, err := ds.ReadRegion(ctx, []int{1, 1}, []int{2, 4})
	require.NoError(t, err)
	require.Equal(t, []int{2, 4}, got.Shape)
	for i := 0; i < 2; i++ {
		for j := 0; j < 4; j++ {
			require.Equal(t, data.Get(1+i, 1+j), got.Get(i, j))
		}
	}

	_, err = ds.ReadRegion(ctx, []int{3, 3}, []int{2, 2})
	var oor *ErrOutOfRange
	require.ErrorAs(t, err, &oor)
}

func TestDataset_ReadSlab(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	data := sequence(2, 3, 4)

	ds, err := s.CreateDataset(ctx, "/d", data, WithChunks([]int{1, 2, 4}))
	require.NoError(t, err)

	// spectrum at one voxel
	got, err := ds.ReadSlab(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int{4}, got.Shape)
	for k := 0; k < 4; k++ {
		require.Equal(t, data.Get(1, 2, k), got.Elements[k])
	}

	// full-index prefix gives a zero-dimensional, one-element array
	got, err = ds.ReadSlab(ctx, 1, 2, 3)
	require.NoError(t, err)
	require.Len(t, got.Elements, 1)
	require.Equal(t, data.Get(1, 2, 3), got.Elements[0])

	_, err = ds.ReadSlab(ctx, 1, 2, 3, 0)
	require.Error(t, err)
}

func TestDataset_At(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	data := sequence(3, 4)

	ds, err := s.CreateDataset(ctx, "/d", data, WithChunks([]int{2, 2}))
	require.NoError(t, err)

	v, err := ds.At(ctx, 2, 3)
	require.NoError(t, err)
	require.Equal(t, data.Get(2, 3), v)

	_, err = ds.At(ctx, 2)
	var oor *ErrOutOfRange
	require.ErrorAs(t, err, &oor)

	_, err = ds.At(ctx, 3, 0)
	require.ErrorAs(t, err, &oor)
}

func TestGuessChunks(t *testing.T) {
	// small datasets stay in one chunk
	require.Equal(t, []int{3, 5, 7, 151}, guessChunks([]int{3, 5, 7, 151}, 8))

	// the spectral axis is never split
	chunks := guessChunks([]int{256, 256, 64, 1024}, 8)
	require.Equal(t, 1024, chunks[3])
	require.LessOrEqual(t, chunkElems(chunks)*8, defaultChunkBytes)
}

func TestCreateDataset_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.CreateDataset(ctx, "/d", sequence(2, 2), WithDType(Int32))
	require.Error(t, err)

	_, err = s.CreateDataset(ctx, "/d", sequence(2, 2), WithChunks([]int{2}))
	require.Error(t, err)
}

func TestDataset_Float32Storage(t *testing.T) {
	ctx := context.Background()
	s := New(blob.NewMemoryStore())
	data := sparse.ZerosDense(2, 2)
	copy(data.Elements, []float64{0.5, 1.25, -2, 8})

	_, err := s.CreateDataset(ctx, "/d", data, WithDType(Float32))
	require.NoError(t, err)

	ds, err := s.OpenDataset(ctx, "/d")
	require.NoError(t, err)
	require.Equal(t, Float32, ds.DType())

	got, err := ds.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, data.Elements, got.Elements)
}
