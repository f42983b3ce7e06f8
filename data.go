package brimfile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/prevedel-lab/brimfile/store"
)

// Data is one data group of a brim file: a set of measured spectra (the PSD
// and its frequency axis) together with their spatial layout and any number
// of analysis result groups.
type Data struct {
	file   *File
	path   string
	index  int
	sparse bool

	mu   sync.Mutex
	smap *spatialMapping
}

func openData(ctx context.Context, f *File, path string) (*Data, error) {
	index, err := indexSuffix(store.BaseName(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	d := &Data{file: f, path: path, index: index}

	v, err := f.store.GetAttr(ctx, path, sparseAttrKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if b, ok := v.(bool); ok {
		d.sparse = b
	}
	return d, nil
}

func indexSuffix(name string) (int, error) {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return 0, fmt.Errorf("no index suffix in %q", name)
	}
	return strconv.Atoi(name[i+1:])
}

// Index returns the numeric index of the group in the file.
func (d *Data) Index() int {
	return d.index
}

// IsSparse reports whether the group stores a flat list of spectra mapped to
// voxels, rather than a dense spatial volume.
func (d *Data) IsSparse() bool {
	return d.sparse
}

// Name returns the display name of the group.
func (d *Data) Name(ctx context.Context) (string, error) {
	return d.file.objectName(ctx, d.path)
}

// SetName assigns a display name to the group.
func (d *Data) SetName(ctx context.Context, name string) error {
	return d.file.setObjectName(ctx, d.path, name)
}

// PixelSize returns the voxel size of the group per spatial axis. Missing
// size information yields NaN axes and a default unit with a warning.
func (d *Data) PixelSize(ctx context.Context) (PixelSize, error) {
	nan := math.NaN()
	ps := PixelSize{Z: nan, Y: nan, X: nan, Units: "um"}

	v, err := d.file.store.GetAttr(ctx, d.path, elementSizeAttrKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.file.logger.Warn("pixel size not stored, returning NaN", "path", d.path)
			return ps, nil
		}
		return ps, err
	}
	vals, ok := v.([]any)
	if !ok || len(vals) != 3 {
		return ps, fmt.Errorf("%w: malformed %s attribute", ErrInvalidFile, elementSizeAttrKey)
	}
	axes := []*float64{&ps.Z, &ps.Y, &ps.X}
	for i, raw := range vals {
		if raw == nil {
			// unused axis, stored as null
			continue
		}
		f, ok := asFloat(raw)
		if !ok {
			return ps, fmt.Errorf("%w: non-numeric %s entry", ErrInvalidFile, elementSizeAttrKey)
		}
		*axes[i] = f
	}
	units, err := d.file.unitOfAttr(ctx, d.path, elementSizeAttrKey)
	if err != nil {
		return ps, err
	}
	if units == "" {
		d.file.logger.Warn("pixel size unit not stored, assuming um", "path", d.path)
		units = "um"
	}
	ps.Units = units
	return ps, nil
}

func (d *Data) psdDataset(ctx context.Context) (*store.Dataset, error) {
	return d.file.store.OpenDataset(ctx, store.ConcatPaths(d.path, psdDatasetName))
}

func (d *Data) frequencyDataset(ctx context.Context) (*store.Dataset, error) {
	return d.file.store.OpenDataset(ctx, store.ConcatPaths(d.path, frequencyDatasetName))
}

// PSD reads the full PSD array: (z, y, x, spectrum) for dense groups,
// (row, spectrum) for sparse ones.
func (d *Data) PSD(ctx context.Context) (*sparse.DenseArray, error) {
	ds, err := d.psdDataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.Read(ctx)
}

// Frequency reads the full frequency array in its stored shape, which is
// broadcastable to the PSD shape.
func (d *Data) Frequency(ctx context.Context) (*sparse.DenseArray, error) {
	ds, err := d.frequencyDataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.Read(ctx)
}

// FrequencyUnits returns the unit of the frequency axis.
func (d *Data) FrequencyUnits(ctx context.Context) (string, error) {
	return d.file.unitOf(ctx, store.ConcatPaths(d.path, frequencyDatasetName))
}

// PSDVolume reads the PSD expanded to the spatial volume layout
// (z, y, x, ..., spectrum), together with the matching frequency array.
// Dense groups return the stored arrays unchanged. For sparse groups the
// stored rows are scattered through the index volume and voxels with no
// spectrum are filled with NaN; a per-row frequency array is scattered the
// same way, while a shared one is returned as stored.
func (d *Data) PSDVolume(ctx context.Context) (psd, frequency *sparse.DenseArray, err error) {
	psd, err = d.PSD(ctx)
	if err != nil {
		return nil, nil, err
	}
	frequency, err = d.Frequency(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !d.sparse {
		return psd, frequency, nil
	}
	m, err := d.mapping(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := psd.Shape[0]
	psd = scatterRows(m.volume, psd)
	if len(frequency.Shape) >= 2 && frequency.Shape[0] == rows {
		frequency = scatterRows(m.volume, frequency)
	}
	return psd, frequency, nil
}

// scatterRows expands a (row, ...) array through the index volume into
// (z, y, x, ...), filling voxels that map to no row with NaN.
func scatterRows(volume *sparse.DenseArrayInt, arr *sparse.DenseArray) *sparse.DenseArray {
	inner := 1
	for _, n := range arr.Shape[1:] {
		inner *= n
	}
	shape := append(intsCopy(volume.Shape), arr.Shape[1:]...)
	out := sparse.ZerosDense(shape...)
	for i, row := range volume.Elements {
		dst := out.Elements[i*inner : (i+1)*inner]
		if row >= 0 && (row+1)*inner <= len(arr.Elements) {
			copy(dst, arr.Elements[row*inner:(row+1)*inner])
		} else {
			for j := range dst {
				dst[j] = math.NaN()
			}
		}
	}
	return out
}

// Parameters reads the values of the extra parameter axes of the PSD,
// together with their display name. It returns store.ErrNotFound when the
// group stores no parameter dataset.
func (d *Data) Parameters(ctx context.Context) (*sparse.DenseArray, string, error) {
	path := store.ConcatPaths(d.path, parametersName)
	ds, err := d.file.store.OpenDataset(ctx, path)
	if err != nil {
		return nil, "", err
	}
	arr, err := ds.Read(ctx)
	if err != nil {
		return nil, "", err
	}
	name, err := d.file.objectName(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return arr, name, nil
}

// NumParameters returns the shape of the parameter dataset, or nil when the
// PSD carries no extra parameter axes.
func (d *Data) NumParameters(ctx context.Context) ([]int, error) {
	ds, err := d.file.store.OpenDataset(ctx, store.ConcatPaths(d.path, parametersName))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return intsCopy(ds.Shape()), nil
}

// Timestamps reads the per-spectrum acquisition timestamps and their unit.
// It returns store.ErrNotFound when none were recorded.
func (d *Data) Timestamps(ctx context.Context) (*sparse.DenseArray, string, error) {
	path := store.ConcatPaths(d.path, timestampDatasetName)
	ds, err := d.file.store.OpenDataset(ctx, path)
	if err != nil {
		return nil, "", err
	}
	arr, err := ds.Read(ctx)
	if err != nil {
		return nil, "", err
	}
	units, err := d.file.unitOf(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return arr, units, nil
}

// mapping returns the voxel-to-row map of a sparse group, loading it on
// first use.
func (d *Data) mapping(ctx context.Context) (*spatialMapping, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.smap != nil {
		return d.smap, nil
	}
	m, err := loadSpatialMapping(ctx, d.file, d.path)
	if err != nil {
		return nil, err
	}
	d.smap = m
	return m, nil
}

// VolumeShape returns the (z, y, x) extent of the group.
func (d *Data) VolumeShape(ctx context.Context) ([]int, error) {
	if d.sparse {
		m, err := d.mapping(ctx)
		if err != nil {
			return nil, err
		}
		return m.shape(), nil
	}
	ds, err := d.psdDataset(ctx)
	if err != nil {
		return nil, err
	}
	return ds.Shape()[:3], nil
}

// IndexVolume returns the (z, y, x) volume mapping each voxel to its
// spectrum row, with -1 at empty voxels. Dense groups have no empty voxels;
// their mapping is the row-major identity over the spatial axes.
func (d *Data) IndexVolume(ctx context.Context) (*sparse.DenseArrayInt, error) {
	if d.sparse {
		m, err := d.mapping(ctx)
		if err != nil {
			return nil, err
		}
		out := sparse.ZerosDenseInt(intsCopy(m.volume.Shape)...)
		copy(out.Elements, m.volume.Elements)
		return out, nil
	}
	shape, err := d.VolumeShape(ctx)
	if err != nil {
		return nil, err
	}
	vol := sparse.ZerosDenseInt(intsCopy(shape)...)
	for i := range vol.Elements {
		vol.Elements[i] = i
	}
	return vol, nil
}

// Resolve maps a (z, y, x) voxel coordinate to its spectrum row. For dense
// groups the row is the row-major flat index of the voxel.
func (d *Data) Resolve(ctx context.Context, coord [3]int) (RowRef, error) {
	if d.sparse {
		m, err := d.mapping(ctx)
		if err != nil {
			return RowRef{}, err
		}
		return m.resolve(coord)
	}
	shape, err := d.VolumeShape(ctx)
	if err != nil {
		return RowRef{}, err
	}
	row := 0
	for i, c := range coord {
		if c < 0 || c >= shape[i] {
			return RowRef{}, &ErrOutOfRange{Index: coord[:], Shape: shape}
		}
		row = row*shape[i] + c
	}
	return Row(row), nil
}

// Spectrum reads the frequency axis and PSD of the voxel at (z, y, x).
// Both results are nil for an empty voxel of a sparse group.
func (d *Data) Spectrum(ctx context.Context, coord [3]int) (frequency, psd *sparse.DenseArray, err error) {
	if d.sparse {
		ref, err := d.Resolve(ctx, coord)
		if err != nil {
			return nil, nil, err
		}
		if ref.IsEmpty() {
			return nil, nil, nil
		}
		return d.SpectrumRow(ctx, ref.Index())
	}

	if _, err := d.Resolve(ctx, coord); err != nil {
		return nil, nil, err
	}
	psdDS, err := d.psdDataset(ctx)
	if err != nil {
		return nil, nil, err
	}
	psd, err = psdDS.ReadSlab(ctx, coord[:]...)
	if err != nil {
		return nil, nil, err
	}
	frequency, err = d.frequencySlab(ctx, psdDS.Shape(), coord[:])
	if err != nil {
		return nil, nil, err
	}
	return frequency, psd, nil
}

// SpectrumRow reads the frequency axis and PSD of spectrum row i of a
// sparse group.
func (d *Data) SpectrumRow(ctx context.Context, i int) (frequency, psd *sparse.DenseArray, err error) {
	psdDS, err := d.psdDataset(ctx)
	if err != nil {
		return nil, nil, err
	}
	psd, err = psdDS.ReadSlab(ctx, i)
	if err != nil {
		return nil, nil, err
	}
	frequency, err = d.frequencySlab(ctx, psdDS.Shape(), []int{i})
	if err != nil {
		return nil, nil, err
	}
	return frequency, psd, nil
}

// frequencySlab reads the frequency values matching one spectrum, honoring
// broadcast semantics: stored axes of length 1 collapse to index 0, and
// leading axes the stored array lacks are skipped.
func (d *Data) frequencySlab(ctx context.Context, psdShape, leading []int) (*sparse.DenseArray, error) {
	ds, err := d.frequencyDataset(ctx)
	if err != nil {
		return nil, err
	}
	shape := ds.Shape()
	extra := len(shape) - (len(psdShape) - len(leading))
	if extra <= 0 {
		return ds.Read(ctx)
	}
	prefix := make([]int, extra)
	for i := 0; i < extra; i++ {
		// Align trailing axes: shape axis i corresponds to PSD axis
		// i + (len(psdShape) - len(shape)).
		psdAxis := i + len(psdShape) - len(shape)
		if shape[i] == 1 {
			prefix[i] = 0
		} else {
			prefix[i] = leading[psdAxis]
		}
	}
	return ds.ReadSlab(ctx, prefix...)
}

// addData writes the PSD, frequency axis, spatial layout and timestamps of
// a freshly created group.
func (d *Data) addData(ctx context.Context, psd, frequency *sparse.DenseArray, scanning Scanning, timestamps []float64) error {
	comp := store.WithCompression(d.file.compression)
	if _, err := d.file.store.CreateDataset(ctx,
		store.ConcatPaths(d.path, psdDatasetName), psd, comp); err != nil {
		return err
	}
	freqPath := store.ConcatPaths(d.path, frequencyDatasetName)
	if _, err := d.file.store.CreateDataset(ctx, freqPath, frequency, comp); err != nil {
		return err
	}
	if err := d.file.attachUnit(ctx, freqPath, "GHz"); err != nil {
		return err
	}

	rows := psd.Shape[0]
	if !d.sparse {
		rows = 1
		for _, n := range psd.Shape[:len(psd.Shape)-1] {
			rows *= n
		}
	}

	if d.sparse {
		if err := d.writeScanning(ctx, scanning, rows); err != nil {
			return err
		}
	}

	if timestamps != nil {
		if len(timestamps) != rows {
			return fmt.Errorf("brimfile: %d timestamps for %d spectra", len(timestamps), rows)
		}
		tsPath := store.ConcatPaths(d.path, timestampDatasetName)
		arr := sparse.ZerosDense(len(timestamps))
		copy(arr.Elements, timestamps)
		if _, err := d.file.store.CreateDataset(ctx, tsPath, arr, comp); err != nil {
			return err
		}
		if err := d.file.attachUnit(ctx, tsPath, "ms"); err != nil {
			return err
		}
	}
	return nil
}

func (d *Data) writeScanning(ctx context.Context, scanning Scanning, rows int) error {
	hasCoords := scanning.X != nil || scanning.Y != nil || scanning.Z != nil
	if scanning.IndexVolume == nil && !hasCoords {
		return fmt.Errorf("%w: sparse data needs an index volume or coordinates", ErrNoSpatialMapping)
	}

	if scanning.IndexVolume != nil {
		if len(scanning.IndexVolume.Shape) != 3 {
			return fmt.Errorf("brimfile: index volume must be 3-D, got shape %v", scanning.IndexVolume.Shape)
		}
		if _, err := d.file.store.CreateDatasetInt(ctx,
			store.ConcatPaths(d.path, cartesianVisName), scanning.IndexVolume,
			store.WithCompression(d.file.compression)); err != nil {
			return err
		}
	}

	if hasCoords {
		units := scanning.CoordUnits
		if units == "" {
			units = "um"
		}
		mapPath := store.ConcatPaths(d.path, spatialMapName)
		if _, err := d.file.store.CreateGroup(ctx, mapPath); err != nil {
			return err
		}
		if err := d.file.attachUnit(ctx, mapPath, units); err != nil {
			return err
		}
		axes := []struct {
			name string
			vals []float64
		}{{"x", scanning.X}, {"y", scanning.Y}, {"z", scanning.Z}}
		for _, axis := range axes {
			if axis.vals == nil {
				continue
			}
			if len(axis.vals) != rows {
				return &ErrInvalidCoordinates{Axis: axis.name, Len: len(axis.vals), Want: rows}
			}
			arr := sparse.ZerosDense(len(axis.vals))
			copy(arr.Elements, axis.vals)
			if _, err := d.file.store.CreateDataset(ctx,
				store.ConcatPaths(mapPath, axis.name), arr,
				store.WithCompression(d.file.compression)); err != nil {
				return err
			}
		}
	}

	if scanning.PixelZYX != nil {
		if len(scanning.PixelZYX) != 3 {
			return fmt.Errorf("brimfile: pixel size must have 3 entries, got %d", len(scanning.PixelZYX))
		}
		if err := d.file.store.SetAttr(ctx, d.path, elementSizeAttrKey, pixelSizeAttr(scanning.PixelZYX)); err != nil {
			return err
		}
		units := scanning.PixelUnits
		if units == "" {
			units = "um"
		}
		if err := d.file.attachAttrUnit(ctx, d.path, elementSizeAttrKey, units); err != nil {
			return err
		}
	}
	return nil
}

// pixelSizeAttr prepares per-axis sizes for attribute storage. NaN axes
// become JSON null, which encoding/json cannot express as a number.
func pixelSizeAttr(v []float64) []any {
	out := make([]any, len(v))
	for i, x := range v {
		if math.IsNaN(x) {
			out[i] = nil
		} else {
			out[i] = x
		}
	}
	return out
}

// ListAnalysisResults lists the analysis result groups of this data group,
// ordered by index.
func (d *Data) ListAnalysisResults(ctx context.Context) ([]GroupInfo, error) {
	return d.file.listIndexedGroups(ctx, d.path, analysisGroupPrefix)
}

// AnalysisResults opens the analysis result group with the given index.
func (d *Data) AnalysisResults(ctx context.Context, index int) (*AnalysisResults, error) {
	infos, err := d.ListAnalysisResults(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Index == index {
			return newAnalysisResults(d, store.ConcatPaths(d.path, info.Name), index), nil
		}
	}
	return nil, fmt.Errorf("%w: analysis results %d in %s", ErrNotFound, index, d.path)
}

// CreateAnalysisResults adds a new analysis result group. Only the index and
// name options apply.
func (d *Data) CreateAnalysisResults(ctx context.Context, opts ...DataGroupOption) (*AnalysisResults, error) {
	o := dataGroupOptions{index: -1}
	for _, opt := range opts {
		opt(&o)
	}
	infos, err := d.ListAnalysisResults(ctx)
	if err != nil {
		return nil, err
	}
	index, err := nextFreeIndex(infos, o.index)
	if err != nil {
		return nil, err
	}
	path := store.ConcatPaths(d.path, fmt.Sprintf("%s_%d", analysisGroupPrefix, index))
	if _, err := d.file.store.CreateGroup(ctx, path); err != nil {
		return nil, err
	}
	if o.name != "" {
		if err := d.file.setObjectName(ctx, path, o.name); err != nil {
			return nil, err
		}
	}
	return newAnalysisResults(d, path, index), nil
}
