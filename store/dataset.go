package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/prevedel-lab/brimfile/store/blob"
	"golang.org/x/sync/errgroup"
)

// chunkFetchLimit bounds the number of chunk objects in flight per read or
// write, to avoid FD exhaustion or object-store rate limits.
const chunkFetchLimit = 16

// defaultChunkBytes is the target size of one chunk object.
const defaultChunkBytes = 4 << 20

// arrayMeta is the .zarray metadata document.
type arrayMeta struct {
	Chunks     []int             `json:"chunks"`
	Compressor *compressorConfig `json:"compressor"`
	DType      string            `json:"dtype"`
	Shape      []int             `json:"shape"`
	ZarrFormat int               `json:"zarr_format"`
}

type compressorConfig struct {
	ID string `json:"id"`
}

// Dataset is a handle to an opened n-dimensional dataset. Opening a dataset
// reads only its metadata document; values are fetched on demand.
type Dataset struct {
	store *Store
	path  string
	key   string
	shape []int
	chunk []int
	dtype DType
	comp  Compression
}

// Path returns the container path of the dataset.
func (d *Dataset) Path() string { return d.path }

// Shape returns the dataset shape.
func (d *Dataset) Shape() []int { return d.shape }

// NDim returns the number of dimensions.
func (d *Dataset) NDim() int { return len(d.shape) }

// DType returns the stored element type.
func (d *Dataset) DType() DType { return d.dtype }

// DatasetOption configures dataset creation.
type DatasetOption func(*datasetOptions)

type datasetOptions struct {
	chunks      []int
	compression Compression
	dtype       DType
}

// WithChunks sets an explicit chunk shape. By default chunks are sized
// toward defaultChunkBytes without ever splitting the last (spectral) axis.
func WithChunks(chunks []int) DatasetOption {
	return func(o *datasetOptions) { o.chunks = chunks }
}

// WithCompression selects the chunk compression codec.
func WithCompression(c Compression) DatasetOption {
	return func(o *datasetOptions) { o.compression = c }
}

// WithDType overrides the stored element type.
func WithDType(d DType) DatasetOption {
	return func(o *datasetOptions) { o.dtype = d }
}

// OpenDataset opens an existing dataset at the given path.
func (s *Store) OpenDataset(ctx context.Context, path string) (*Dataset, error) {
	path = ConcatPaths(path)
	key := objectKey(path)
	doc, err := s.objects.Get(ctx, childKey(key, arrayMetaName))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: dataset %s", ErrNotFound, path)
		}
		return nil, err
	}
	var meta arrayMeta
	if err := json.Unmarshal(doc, &meta); err != nil {
		return nil, fmt.Errorf("store: malformed metadata for %s: %w", path, err)
	}
	if len(meta.Shape) == 0 || len(meta.Chunks) != len(meta.Shape) {
		return nil, fmt.Errorf("store: invalid shape/chunks for %s", path)
	}
	dtype, err := parseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("store: dataset %s: %w", path, err)
	}
	compID := ""
	if meta.Compressor != nil {
		compID = meta.Compressor.ID
	}
	comp, err := compressionFromID(compID)
	if err != nil {
		return nil, fmt.Errorf("store: dataset %s: %w", path, err)
	}
	return &Dataset{
		store: s,
		path:  path,
		key:   key,
		shape: meta.Shape,
		chunk: meta.Chunks,
		dtype: dtype,
		comp:  comp,
	}, nil
}

// CreateDataset writes data as a new float dataset at the given path.
func (s *Store) CreateDataset(ctx context.Context, path string, data *sparse.DenseArray, opts ...DatasetOption) (*Dataset, error) {
	o := datasetOptions{dtype: Float64}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dtype.IsInteger() {
		return nil, fmt.Errorf("store: float dataset %s cannot use integer dtype %s", path, o.dtype)
	}
	d, err := s.createDataset(ctx, path, data.Shape, o)
	if err != nil {
		return nil, err
	}
	err = d.writeChunks(ctx, func(lo, hi []int) ([]byte, error) {
		vals := make([]float64, chunkElems(d.chunk))
		strides := rowMajorStrides(data.Shape)
		fillRegion(lo, hi, d.chunk, func(chunkIdx int, coord []int) {
			vals[chunkIdx] = data.Elements[flatIndex(coord, strides)]
		})
		return encodeFloats(vals, d.dtype)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDatasetInt writes data as a new integer dataset at the given path.
// Unless WithDType overrides it, the element type is the smallest integer
// dtype holding the value range, signed if any value is negative.
func (s *Store) CreateDatasetInt(ctx context.Context, path string, data *sparse.DenseArrayInt, opts ...DatasetOption) (*Dataset, error) {
	o := datasetOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dtype == "" {
		min, max := int64(0), int64(0)
		for _, v := range data.Elements {
			if int64(v) < min {
				min = int64(v)
			}
			if int64(v) > max {
				max = int64(v)
			}
		}
		o.dtype = SmallestIntDType(min, max)
	}
	if !o.dtype.IsInteger() {
		return nil, fmt.Errorf("store: integer dataset %s cannot use dtype %s", path, o.dtype)
	}
	d, err := s.createDataset(ctx, path, data.Shape, o)
	if err != nil {
		return nil, err
	}
	err = d.writeChunks(ctx, func(lo, hi []int) ([]byte, error) {
		vals := make([]int, chunkElems(d.chunk))
		strides := rowMajorStrides(data.Shape)
		fillRegion(lo, hi, d.chunk, func(chunkIdx int, coord []int) {
			vals[chunkIdx] = data.Elements[flatIndex(coord, strides)]
		})
		return encodeInts(vals, d.dtype)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) createDataset(ctx context.Context, path string, shape []int, o datasetOptions) (*Dataset, error) {
	path = ConcatPaths(path)
	if len(shape) == 0 {
		return nil, fmt.Errorf("store: dataset %s must have at least one dimension", path)
	}
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("store: dataset %s has invalid shape %v", path, shape)
		}
	}
	chunks := o.chunks
	if chunks == nil {
		chunks = guessChunks(shape, o.dtype.Size())
	}
	if len(chunks) != len(shape) {
		return nil, fmt.Errorf("store: chunk rank %d does not match shape rank %d", len(chunks), len(shape))
	}

	meta := arrayMeta{
		Chunks:     chunks,
		DType:      o.dtype.token(),
		Shape:      shape,
		ZarrFormat: zarrFormat,
	}
	if id := o.compression.id(); id != "" {
		meta.Compressor = &compressorConfig{ID: id}
	}
	doc, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	key := objectKey(path)
	if err := s.objects.Put(ctx, childKey(key, arrayMetaName), doc); err != nil {
		return nil, err
	}
	return &Dataset{
		store: s,
		path:  path,
		key:   key,
		shape: shape,
		chunk: chunks,
		dtype: o.dtype,
		comp:  o.compression,
	}, nil
}

// guessChunks sizes chunks toward defaultChunkBytes by splitting leading
// dimensions. The last dimension is never split, so one spectrum is always
// contained in a single chunk.
func guessChunks(shape []int, itemsize int) []int {
	chunks := make([]int, len(shape))
	copy(chunks, shape)
	if len(shape) == 1 {
		return chunks
	}
	for chunkElems(chunks)*itemsize > defaultChunkBytes {
		split := -1
		for d := 0; d < len(chunks)-1; d++ {
			if chunks[d] > 1 {
				split = d
				break
			}
		}
		if split < 0 {
			break
		}
		chunks[split] = (chunks[split] + 1) / 2
	}
	return chunks
}

func chunkElems(chunks []int) int {
	n := 1
	for _, c := range chunks {
		n *= c
	}
	return n
}

// Read fetches the whole dataset as a float array. Integer elements are
// widened to float64.
func (d *Dataset) Read(ctx context.Context) (*sparse.DenseArray, error) {
	start := make([]int, len(d.shape))
	return d.ReadRegion(ctx, start, d.shape)
}

// ReadInt fetches the whole dataset as an integer array. The in-memory
// representation is int regardless of the stored dtype, so sentinel values
// round-trip exactly through any signed compact encoding.
func (d *Dataset) ReadInt(ctx context.Context) (*sparse.DenseArrayInt, error) {
	out := sparse.ZerosDenseInt(intsCopy(d.shape)...)
	strides := rowMajorStrides(d.shape)
	start := make([]int, len(d.shape))
	err := d.readRegion(ctx, start, d.shape, func(coord []int, buf []byte, bufIdx int) {
		out.Elements[flatIndex(coord, strides)] = decodeInt(buf, bufIdx, d.dtype)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRegion fetches the hyper-rectangle [start, start+size) as a float
// array of shape size.
func (d *Dataset) ReadRegion(ctx context.Context, start, size []int) (*sparse.DenseArray, error) {
	out := sparse.ZerosDense(intsCopy(size)...)
	outStrides := rowMajorStrides(size)
	err := d.readRegion(ctx, start, size, func(coord []int, buf []byte, bufIdx int) {
		outIdx := 0
		for dim := range coord {
			outIdx += (coord[dim] - start[dim]) * outStrides[dim]
		}
		out.Elements[outIdx] = decodeFloat(buf, bufIdx, d.dtype)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSlab fixes the leading len(prefix) indices and fetches the remaining
// dimensions as a float array. With e.g. a (Z,Y,X,S) dataset, ReadSlab(z,y,x)
// returns the length-S vector at that voxel. Fixing every index yields a
// zero-dimensional array holding one element.
func (d *Dataset) ReadSlab(ctx context.Context, prefix ...int) (*sparse.DenseArray, error) {
	if len(prefix) > len(d.shape) {
		return nil, fmt.Errorf("store: slab prefix %v leaves no free dimension for shape %v", prefix, d.shape)
	}
	start := make([]int, len(d.shape))
	size := make([]int, len(d.shape))
	copy(start, prefix)
	for i := range size {
		if i < len(prefix) {
			size[i] = 1
		} else {
			size[i] = d.shape[i]
		}
	}
	region, err := d.ReadRegion(ctx, start, size)
	if err != nil {
		return nil, err
	}
	// squeeze the fixed leading dimensions
	out := sparse.ZerosDense(intsCopy(d.shape[len(prefix):])...)
	copy(out.Elements, region.Elements)
	return out, nil
}

// At fetches a single element by its full index.
func (d *Dataset) At(ctx context.Context, index ...int) (float64, error) {
	if len(index) != len(d.shape) {
		return 0, &ErrOutOfRange{Index: intsCopy(index), Shape: intsCopy(d.shape)}
	}
	start := intsCopy(index)
	size := make([]int, len(index))
	for i := range size {
		size[i] = 1
	}
	var value float64
	err := d.readRegion(ctx, start, size, func(_ []int, buf []byte, bufIdx int) {
		value = decodeFloat(buf, bufIdx, d.dtype)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// readRegion fetches every chunk intersecting [start, start+size) and calls
// visit once per element of the region with the element's global coordinate,
// the chunk's raw buffer and the element's index within that buffer.
//
// All chunk fetches of one region are issued before any is awaited; visit
// calls for different chunks may interleave in any order.
func (d *Dataset) readRegion(ctx context.Context, start, size []int, visit func(coord []int, buf []byte, bufIdx int)) error {
	ndim := len(d.shape)
	if len(start) != ndim || len(size) != ndim {
		return &ErrOutOfRange{Index: intsCopy(start), Shape: intsCopy(d.shape)}
	}
	for dim := 0; dim < ndim; dim++ {
		if start[dim] < 0 || size[dim] <= 0 || start[dim]+size[dim] > d.shape[dim] {
			return &ErrOutOfRange{Index: intsCopy(start), Shape: intsCopy(d.shape)}
		}
	}

	cLo := make([]int, ndim)
	cHi := make([]int, ndim) // inclusive
	for dim := 0; dim < ndim; dim++ {
		cLo[dim] = start[dim] / d.chunk[dim]
		cHi[dim] = (start[dim] + size[dim] - 1) / d.chunk[dim]
	}

	chunkStrides := rowMajorStrides(d.chunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkFetchLimit)
	iterInclusive(cLo, cHi, func(chunkCoord []int) {
		cc := intsCopy(chunkCoord)
		g.Go(func() error {
			data, err := d.store.objects.Get(gctx, childKey(d.key, chunkName(cc)))
			if err != nil {
				if errors.Is(err, blob.ErrNotFound) {
					return fmt.Errorf("%w: chunk %s of %s", ErrNotFound, chunkName(cc), d.path)
				}
				return err
			}
			buf, err := decompressChunk(d.comp, data)
			if err != nil {
				return fmt.Errorf("store: chunk %s of %s: %w", chunkName(cc), d.path, err)
			}
			if want := chunkElems(d.chunk) * d.dtype.Size(); len(buf) != want {
				return fmt.Errorf("store: chunk %s of %s has %d bytes, want %d", chunkName(cc), d.path, len(buf), want)
			}

			// intersection of this chunk with the requested region
			lo := make([]int, ndim)
			hi := make([]int, ndim)
			for dim := 0; dim < ndim; dim++ {
				lo[dim] = maxInt(start[dim], cc[dim]*d.chunk[dim])
				hi[dim] = minInt(start[dim]+size[dim], (cc[dim]+1)*d.chunk[dim])
			}
			iterRegion(lo, hi, func(coord []int) {
				bufIdx := 0
				for dim := 0; dim < ndim; dim++ {
					bufIdx += (coord[dim] - cc[dim]*d.chunk[dim]) * chunkStrides[dim]
				}
				visit(coord, buf, bufIdx)
			})
			return nil
		})
	})
	return g.Wait()
}

// writeChunks encodes and stores every chunk of the dataset. encode receives
// the global bounds [lo, hi) of the chunk's valid elements and must return
// the full (edge-padded) chunk encoding.
func (d *Dataset) writeChunks(ctx context.Context, encode func(lo, hi []int) ([]byte, error)) error {
	ndim := len(d.shape)
	cLo := make([]int, ndim)
	cHi := make([]int, ndim)
	for dim := 0; dim < ndim; dim++ {
		cHi[dim] = (d.shape[dim] - 1) / d.chunk[dim]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkFetchLimit)
	iterInclusive(cLo, cHi, func(chunkCoord []int) {
		cc := intsCopy(chunkCoord)
		g.Go(func() error {
			lo := make([]int, ndim)
			hi := make([]int, ndim)
			for dim := 0; dim < ndim; dim++ {
				lo[dim] = cc[dim] * d.chunk[dim]
				hi[dim] = minInt(lo[dim]+d.chunk[dim], d.shape[dim])
			}
			raw, err := encode(lo, hi)
			if err != nil {
				return err
			}
			obj, err := compressChunk(d.comp, raw)
			if err != nil {
				return err
			}
			return d.store.objects.Put(gctx, childKey(d.key, chunkName(cc)), obj)
		})
	})
	return g.Wait()
}

// fillRegion visits every element of the global region [lo, hi) and reports
// its flat index within the enclosing (edge-padded) chunk whose origin is
// lo rounded down to a chunk boundary.
func fillRegion(lo, hi, chunk []int, set func(chunkIdx int, coord []int)) {
	strides := rowMajorStrides(chunk)
	origin := make([]int, len(lo))
	for dim := range lo {
		origin[dim] = (lo[dim] / chunk[dim]) * chunk[dim]
	}
	iterRegion(lo, hi, func(coord []int) {
		idx := 0
		for dim := range coord {
			idx += (coord[dim] - origin[dim]) * strides[dim]
		}
		set(idx, coord)
	})
}

func chunkName(coord []int) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ".")
}

// iterRegion enumerates [lo, hi) in row-major order. The coord slice is
// reused between calls.
func iterRegion(lo, hi []int, fn func(coord []int)) {
	n := len(lo)
	for dim := 0; dim < n; dim++ {
		if lo[dim] >= hi[dim] {
			return
		}
	}
	coord := make([]int, n)
	copy(coord, lo)
	for {
		fn(coord)
		dim := n - 1
		for ; dim >= 0; dim-- {
			coord[dim]++
			if coord[dim] < hi[dim] {
				break
			}
			coord[dim] = lo[dim]
		}
		if dim < 0 {
			return
		}
	}
}

// iterInclusive enumerates [lo, hi] in row-major order.
func iterInclusive(lo, hi []int, fn func(coord []int)) {
	hiEx := make([]int, len(hi))
	for i := range hi {
		hiEx[i] = hi[i] + 1
	}
	iterRegion(lo, hiEx, fn)
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for dim := len(shape) - 1; dim >= 0; dim-- {
		strides[dim] = s
		s *= shape[dim]
	}
	return strides
}

func flatIndex(coord, strides []int) int {
	idx := 0
	for dim := range coord {
		idx += coord[dim] * strides[dim]
	}
	return idx
}

func intsCopy(v []int) []int {
	out := make([]int, len(v))
	copy(out, v)
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
