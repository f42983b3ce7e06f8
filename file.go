package brimfile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/ctessum/sparse"
	"github.com/prevedel-lab/brimfile/store"
	"github.com/prevedel-lab/brimfile/store/blob"
	"golang.org/x/sync/errgroup"
)

// Object names fixed by the brim file layout.
const (
	brillouinBasePath = "/Brillouin_data"

	dataGroupPrefix     = "Data"
	analysisGroupPrefix = "Analysis_results"

	psdDatasetName       = "PSD"
	frequencyDatasetName = "Frequency"
	cartesianVisName     = "Cartesian_visualisation"
	spatialMapName       = "Spatial_map"
	parametersName       = "Parameters"
	timestampDatasetName = "Timestamp"

	nameAttrKey        = "Name"
	sparseAttrKey      = "Sparse"
	elementSizeAttrKey = "element_size"
	fitModelAttrKey    = "Fit_model"
	brimVersionAttr    = "brim_version"
)

// brimVersion is the format version written into newly created files.
const brimVersion = "0.1"

// File is a brim file: a hierarchical container holding one or more data
// groups with Brillouin measurements and their analysis results.
type File struct {
	store       *store.Store
	logger      *Logger
	compression store.Compression
}

func newFile(objects blob.Store, opts []Option) *File {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &File{
		store:       store.New(objects),
		logger:      o.logger,
		compression: o.compression,
	}
}

// Create initializes a new brim file in the given object store.
// The store is expected to be empty; existing content is not checked.
func Create(ctx context.Context, objects blob.Store, opts ...Option) (*File, error) {
	f := newFile(objects, opts)
	if _, err := f.store.CreateGroup(ctx, "/"); err != nil {
		return nil, err
	}
	if err := f.store.SetAttr(ctx, "/", brimVersionAttr, brimVersion); err != nil {
		return nil, err
	}
	if _, err := f.store.CreateGroup(ctx, brillouinBasePath); err != nil {
		return nil, err
	}
	return f, nil
}

// Open opens an existing brim file from the given object store.
func Open(ctx context.Context, objects blob.Store, opts ...Option) (*File, error) {
	f := newFile(objects, opts)
	ok, err := f.store.ObjectExists(ctx, brillouinBasePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing %s group", ErrInvalidFile, brillouinBasePath)
	}
	return f, nil
}

// Close releases the file. The underlying object store is owned by the
// caller and is not closed.
func (f *File) Close() error {
	return nil
}

// Version returns the brim format version recorded in the file.
func (f *File) Version(ctx context.Context) (string, error) {
	v, err := f.store.GetAttr(ctx, "/", brimVersionAttr)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: malformed %s attribute", ErrInvalidFile, brimVersionAttr)
	}
	return s, nil
}

// GroupInfo describes one indexed group (data group or analysis group).
type GroupInfo struct {
	// Name is the group name in the container, e.g. "Data_0".
	Name string
	// Index is the numeric suffix of the name.
	Index int
	// CustomName is the user-assigned display name, or the group name when
	// none was assigned.
	CustomName string
}

// ListDataGroups lists all data groups in the file, ordered by index.
func (f *File) ListDataGroups(ctx context.Context) ([]GroupInfo, error) {
	return f.listIndexedGroups(ctx, brillouinBasePath, dataGroupPrefix)
}

// listIndexedGroups lists the children of parent named "<prefix>_<n>",
// ordered by n, resolving custom names concurrently.
func (f *File) listIndexedGroups(ctx context.Context, parent, prefix string) ([]GroupInfo, error) {
	names, err := f.store.ListObjects(ctx, parent)
	if err != nil {
		return nil, err
	}
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `_(\d+)$`)

	var infos []GroupInfo
	for _, name := range names {
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		infos = append(infos, GroupInfo{Name: name, Index: index})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range infos {
		i := i
		g.Go(func() error {
			custom, err := f.objectName(gctx, store.ConcatPaths(parent, infos[i].Name))
			if err != nil {
				return err
			}
			infos[i].CustomName = custom
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos, nil
}

// objectName returns the 'Name' attribute of the object, falling back to the
// last path element when unset.
func (f *File) objectName(ctx context.Context, path string) (string, error) {
	v, err := f.store.GetAttr(ctx, path, nameAttrKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.BaseName(path), nil
		}
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return store.BaseName(path), nil
}

// setObjectName assigns a display name to the object.
func (f *File) setObjectName(ctx context.Context, path, name string) error {
	return f.store.SetAttr(ctx, path, nameAttrKey, name)
}

// DataGroup opens the data group with the given index.
func (f *File) DataGroup(ctx context.Context, index int) (*Data, error) {
	infos, err := f.ListDataGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Index == index {
			return openData(ctx, f, store.ConcatPaths(brillouinBasePath, info.Name))
		}
	}
	return nil, fmt.Errorf("%w: data group %d", ErrNotFound, index)
}

// nextFreeIndex returns requested if non-negative (erroring when taken), or
// the next available index otherwise.
func nextFreeIndex(infos []GroupInfo, requested int) (int, error) {
	if requested >= 0 {
		for _, info := range infos {
			if info.Index == requested {
				return 0, fmt.Errorf("brimfile: index %d already exists", requested)
			}
		}
		return requested, nil
	}
	next := 0
	for _, info := range infos {
		if info.Index >= next {
			next = info.Index + 1
		}
	}
	return next, nil
}

// DataGroupOption configures data group creation.
type DataGroupOption func(*dataGroupOptions)

type dataGroupOptions struct {
	index      int
	name       string
	timestamps []float64
}

// WithIndex forces the numeric index of the new group. Creation fails when
// the index is already taken. By default the next free index is used.
func WithIndex(index int) DataGroupOption {
	return func(o *dataGroupOptions) { o.index = index }
}

// WithName assigns a display name to the new group.
func WithName(name string) DataGroupOption {
	return func(o *dataGroupOptions) { o.name = name }
}

// WithTimestamps stores per-spectrum acquisition timestamps (milliseconds).
// The slice length must equal the number of spectrum rows.
func WithTimestamps(ts []float64) DataGroupOption {
	return func(o *dataGroupOptions) { o.timestamps = ts }
}

// CreateDataGroup adds a new dense data group. PSD must be at least 4-D in
// the order (z, y, x, [parameters...], spectrum); frequency must be
// broadcastable to PSD. pxSizeZYX is the pixel size in micrometers per
// spatial axis; unused axes may be NaN.
func (f *File) CreateDataGroup(ctx context.Context, psd, frequency *sparse.DenseArray, pxSizeZYX [3]float64, opts ...DataGroupOption) (*Data, error) {
	if len(psd.Shape) < 4 {
		return nil, fmt.Errorf("brimfile: dense PSD must be at least 4-D (z, y, x, spectrum), got shape %v", psd.Shape)
	}
	return f.createDataGroup(ctx, psd, frequency, false, Scanning{}, &pxSizeZYX, opts)
}

// CreateDataGroupSparse adds a new sparse data group: PSD rows are a flat
// list of measured locations, and scanning supplies the spatial mapping
// (an explicit index volume, per-row coordinates, or both).
func (f *File) CreateDataGroupSparse(ctx context.Context, psd, frequency *sparse.DenseArray, scanning Scanning, opts ...DataGroupOption) (*Data, error) {
	if len(psd.Shape) != 2 {
		return nil, fmt.Errorf("brimfile: sparse PSD must be 2-D (row, spectrum), got shape %v", psd.Shape)
	}
	return f.createDataGroup(ctx, psd, frequency, true, scanning, nil, opts)
}

func (f *File) createDataGroup(ctx context.Context, psd, frequency *sparse.DenseArray, sparseData bool, scanning Scanning, pxSizeZYX *[3]float64, opts []DataGroupOption) (*Data, error) {
	o := dataGroupOptions{index: -1}
	for _, opt := range opts {
		opt(&o)
	}

	if !broadcastable(frequency.Shape, psd.Shape) {
		return nil, fmt.Errorf("brimfile: frequency (shape %v) is not broadcastable to PSD (shape %v)", frequency.Shape, psd.Shape)
	}

	infos, err := f.ListDataGroups(ctx)
	if err != nil {
		return nil, err
	}
	index, err := nextFreeIndex(infos, o.index)
	if err != nil {
		return nil, err
	}

	path := store.ConcatPaths(brillouinBasePath, fmt.Sprintf("%s_%d", dataGroupPrefix, index))
	if _, err := f.store.CreateGroup(ctx, path); err != nil {
		return nil, err
	}
	if err := f.store.SetAttr(ctx, path, sparseAttrKey, sparseData); err != nil {
		return nil, err
	}
	if o.name != "" {
		if err := f.setObjectName(ctx, path, o.name); err != nil {
			return nil, err
		}
	}
	if pxSizeZYX != nil {
		if err := f.store.SetAttr(ctx, path, elementSizeAttrKey, pixelSizeAttr(pxSizeZYX[:])); err != nil {
			return nil, err
		}
		if err := f.attachAttrUnit(ctx, path, elementSizeAttrKey, "um"); err != nil {
			return nil, err
		}
	} else if !sparseData {
		f.logger.Warn("pixel size not provided for dense data", "path", path)
	}

	d := &Data{file: f, path: path, index: index, sparse: sparseData}
	if err := d.addData(ctx, psd, frequency, scanning, o.timestamps); err != nil {
		return nil, err
	}
	return d, nil
}

// broadcastable reports whether shape b broadcasts to shape a under
// numpy-style trailing alignment.
func broadcastable(b, a []int) bool {
	if len(b) > len(a) {
		return false
	}
	for i := 1; i <= len(b); i++ {
		db := b[len(b)-i]
		da := a[len(a)-i]
		if db != da && db != 1 {
			return false
		}
	}
	return true
}
