package brimfile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/sparse"
	"github.com/prevedel-lab/brimfile/store"
)

// Scanning describes the spatial layout of a sparse data group. At least one
// of IndexVolume or the coordinate slices must be provided.
type Scanning struct {
	// X, Y, Z hold the spatial coordinate of each spectrum row. Any subset
	// may be nil; provided slices must all have the same length as the
	// number of rows.
	X, Y, Z []float64
	// CoordUnits is the unit of the coordinates, defaulting to "um".
	CoordUnits string
	// IndexVolume is an explicit (z, y, x) volume mapping each voxel to a
	// spectrum row, with -1 marking empty voxels. When nil, the volume is
	// reconstructed from the coordinates.
	IndexVolume *sparse.DenseArrayInt
	// PixelZYX is the voxel size per spatial axis (z, y, x). Unused axes
	// may be NaN.
	PixelZYX []float64
	// PixelUnits is the unit of PixelZYX, defaulting to "um".
	PixelUnits string
}

// emptyVoxelRow marks a voxel with no associated spectrum.
const emptyVoxelRow = -1

// RowRef refers to a spectrum row in a sparse data group, or to an empty
// voxel.
type RowRef struct {
	row int
}

// EmptyVoxel returns the RowRef of a voxel with no spectrum.
func EmptyVoxel() RowRef {
	return RowRef{row: emptyVoxelRow}
}

// Row returns a RowRef pointing at spectrum row i.
func Row(i int) RowRef {
	if i < 0 {
		return EmptyVoxel()
	}
	return RowRef{row: i}
}

// IsEmpty reports whether the reference points at an empty voxel.
func (r RowRef) IsEmpty() bool {
	return r.row < 0
}

// Index returns the referenced spectrum row. It panics on empty voxels.
func (r RowRef) Index() int {
	if r.row < 0 {
		panic("brimfile: Index called on empty voxel")
	}
	return r.row
}

// PixelSize is the voxel size of a data group per spatial axis.
type PixelSize struct {
	Z, Y, X float64
	Units   string
}

// spatialMapping resolves (z, y, x) voxel coordinates to spectrum rows.
type spatialMapping struct {
	volume *sparse.DenseArrayInt
}

// resolve maps a voxel coordinate to its spectrum row.
func (m *spatialMapping) resolve(coord [3]int) (RowRef, error) {
	shape := m.volume.Shape
	for i, c := range coord {
		if c < 0 || c >= shape[i] {
			return RowRef{}, &ErrOutOfRange{Index: coord[:], Shape: shape}
		}
	}
	row := m.volume.Get(coord[0], coord[1], coord[2])
	if row < 0 {
		return EmptyVoxel(), nil
	}
	return Row(row), nil
}

// shape returns the (z, y, x) extent of the mapped volume.
func (m *spatialMapping) shape() []int {
	return m.volume.Shape
}

// loadSpatialMapping loads the voxel-to-row map of a sparse data group,
// preferring the stored index volume and falling back to reconstruction from
// the per-row coordinate arrays.
func loadSpatialMapping(ctx context.Context, f *File, dataPath string) (*spatialMapping, error) {
	visPath := store.ConcatPaths(dataPath, cartesianVisName)
	ds, err := f.store.OpenDataset(ctx, visPath)
	if err == nil {
		volume, err := ds.ReadInt(ctx)
		if err != nil {
			return nil, err
		}
		return &spatialMapping{volume: volume}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	coords, n, err := readSpatialCoords(ctx, f, dataPath)
	if err != nil {
		return nil, err
	}
	if coords[0] == nil && coords[1] == nil && coords[2] == nil {
		return nil, fmt.Errorf("%w: neither %s nor %s present in %s",
			ErrNoSpatialMapping, cartesianVisName, spatialMapName, dataPath)
	}
	volume, err := reconstructIndexVolume(coords, n)
	if err != nil {
		return nil, err
	}
	return &spatialMapping{volume: volume}, nil
}

// readSpatialCoords reads the per-row coordinate arrays from the Spatial_map
// group. It returns coords in (z, y, x) order with zeros for absent axes,
// or nil when no axis is stored at all.
func readSpatialCoords(ctx context.Context, f *File, dataPath string) ([3][]float64, int, error) {
	var coords [3][]float64
	mapPath := store.ConcatPaths(dataPath, spatialMapName)
	axes := [3]string{"z", "y", "x"}

	n := 0
	found := false
	for i, axis := range axes {
		ds, err := f.store.OpenDataset(ctx, store.ConcatPaths(mapPath, axis))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return coords, 0, err
		}
		arr, err := ds.Read(ctx)
		if err != nil {
			return coords, 0, err
		}
		vals := arr.Elements
		if found && len(vals) != n {
			return coords, 0, &ErrInvalidCoordinates{Axis: axis, Len: len(vals), Want: n}
		}
		coords[i] = vals
		n = len(vals)
		found = true
	}
	if !found {
		return [3][]float64{}, 0, nil
	}
	for i := range coords {
		if coords[i] == nil {
			coords[i] = make([]float64, n)
		}
	}
	return coords, n, nil
}

// axisGrid describes the regular grid positions along one axis.
type axisGrid struct {
	min  float64
	step float64
	n    int
}

// gridFromValues derives the grid of an axis from the coordinate values it
// takes: the number of distinct values and an even spacing between the
// extremes.
func gridFromValues(vals []float64) axisGrid {
	distinct := append([]float64(nil), vals...)
	sort.Float64s(distinct)
	n := 0
	for i, v := range distinct {
		if i == 0 || v != distinct[i-1] {
			distinct[n] = v
			n++
		}
	}
	g := axisGrid{min: distinct[0], n: n}
	if n > 1 {
		g.step = (distinct[n-1] - distinct[0]) / float64(n-1)
	}
	return g
}

// index maps a coordinate value to its grid position.
func (g axisGrid) index(v float64) int {
	if g.n <= 1 || g.step == 0 {
		return 0
	}
	i := int(math.Round((v - g.min) / g.step))
	if i < 0 {
		i = 0
	}
	if i >= g.n {
		i = g.n - 1
	}
	return i
}

// reconstructIndexVolume builds the voxel-to-row volume from per-row
// (z, y, x) coordinates. Voxels not visited by any row stay empty. The
// result does not depend on the order of the rows beyond the last row
// winning a duplicate voxel.
func reconstructIndexVolume(coords [3][]float64, n int) (*sparse.DenseArrayInt, error) {
	var grids [3]axisGrid
	for i := range coords {
		grids[i] = gridFromValues(coords[i])
	}
	volume := sparse.ZerosDenseInt(grids[0].n, grids[1].n, grids[2].n)
	for i := range volume.Elements {
		volume.Elements[i] = emptyVoxelRow
	}
	for row := 0; row < n; row++ {
		zi := grids[0].index(coords[0][row])
		yi := grids[1].index(coords[1][row])
		xi := grids[2].index(coords[2][row])
		volume.Set(row, zi, yi, xi)
	}
	return volume, nil
}
