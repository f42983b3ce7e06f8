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

// AnalysisResults is one analysis group of a data group: the per-voxel
// quantities produced by fitting spectral peaks (shift, width, amplitude,
// offset and the fit errors), stored per peak type and peak index.
type AnalysisResults struct {
	data  *Data
	path  string
	index int

	mu       sync.Mutex
	fitModel *FitModel
}

func newAnalysisResults(d *Data, path string, index int) *AnalysisResults {
	return &AnalysisResults{data: d, path: path, index: index}
}

// Index returns the numeric index of the group in its data group.
func (a *AnalysisResults) Index() int {
	return a.index
}

// Name returns the display name of the group.
func (a *AnalysisResults) Name(ctx context.Context) (string, error) {
	return a.data.file.objectName(ctx, a.path)
}

// SetName assigns a display name to the group.
func (a *AnalysisResults) SetName(ctx context.Context, name string) error {
	return a.data.file.setObjectName(ctx, a.path, name)
}

// SetFitModel records the functional form the peaks were fitted with.
func (a *AnalysisResults) SetFitModel(ctx context.Context, m FitModel) error {
	if err := a.data.file.store.SetAttr(ctx, a.path, fitModelAttrKey, m.String()); err != nil {
		return err
	}
	a.mu.Lock()
	a.fitModel = &m
	a.mu.Unlock()
	return nil
}

// FitModel returns the recorded fit model. Missing or unrecognized values
// degrade to FitModelUndefined. The result is cached.
func (a *AnalysisResults) FitModel(ctx context.Context) (FitModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fitModel != nil {
		return *a.fitModel, nil
	}

	m := FitModelUndefined
	v, err := a.data.file.store.GetAttr(ctx, a.path, fitModelAttrKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return FitModelUndefined, err
	}
	if err == nil {
		s, _ := v.(string)
		parsed, ok := ParseFitModel(s)
		if !ok {
			a.data.file.logger.Warn("unrecognized fit model, using Undefined",
				"path", a.path, "value", s)
		}
		m = parsed
	}
	a.fitModel = &m
	return m, nil
}

// QuantityValue is one quantity value with its unit. Scalar quantities set
// Value. Quantities with trailing matrix axes (CovMatrix) set Matrix and
// leave Value NaN, except for the cross-peak average, which collapses the
// matrices to the mean of their absolute entries.
type QuantityValue struct {
	Value  float64
	Matrix *sparse.DenseArray
	Units  string
}

// QuantityData is one quantity array to be stored, with its unit.
type QuantityData struct {
	Values *sparse.DenseArray
	Units  string
}

// PeakData holds the fitted quantities of one peak over the whole data
// group. Nil arrays are skipped. CovMatrix may carry extra trailing axes
// for the matrix dimensions.
type PeakData struct {
	Shift     QuantityData
	Width     QuantityData
	Amplitude QuantityData
	Offset    QuantityData
	R2        QuantityData
	RMSE      QuantityData
	CovMatrix QuantityData
}

func (pd *PeakData) fields() []struct {
	q Quantity
	d QuantityData
} {
	return []struct {
		q Quantity
		d QuantityData
	}{
		{Shift, pd.Shift},
		{Width, pd.Width},
		{Amplitude, pd.Amplitude},
		{Offset, pd.Offset},
		{R2, pd.R2},
		{RMSE, pd.RMSE},
		{CovMatrix, pd.CovMatrix},
	}
}

// defaultQuantityUnits fills in the conventional unit when the caller left
// it empty.
func defaultQuantityUnits(q Quantity) string {
	switch q {
	case Shift, Width:
		return "GHz"
	default:
		return ""
	}
}

// expectedQuantityShape returns the shape quantity arrays must have: the
// PSD shape without its spectral axis. ok is false when the PSD is absent
// and no validation is possible.
func (a *AnalysisResults) expectedQuantityShape(ctx context.Context) (shape []int, ok bool, err error) {
	ds, err := a.data.psdDataset(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	s := ds.Shape()
	return s[:len(s)-1], true, nil
}

// AddData stores the fitted quantities of one peak. peak must be AntiStokes
// or Stokes. Array shapes are validated against the PSD when it is present;
// without a PSD a warning is logged and the arrays are stored as given.
func (a *AnalysisResults) AddData(ctx context.Context, peak PeakType, peakIndex int, data PeakData) error {
	if peak != AntiStokes && peak != Stokes {
		return fmt.Errorf("brimfile: cannot store data for peak type %s", peak)
	}

	expected, haveShape, err := a.expectedQuantityShape(ctx)
	if err != nil {
		return err
	}
	if !haveShape {
		a.data.file.logger.Warn("no PSD present, skipping quantity shape validation", "path", a.path)
	}

	fitErrGroup := false
	for _, f := range data.fields() {
		if f.d.Values == nil {
			continue
		}
		if haveShape {
			if err := checkQuantityShape(f.q, expected, f.d.Values.Shape); err != nil {
				return err
			}
		}

		name, err := quantityDatasetName(f.q, peak, peakIndex)
		if err != nil {
			return err
		}
		if f.q.isFitError() && !fitErrGroup {
			parent, _, _ := strings.Cut(name, "/")
			if _, err := a.data.file.store.CreateGroup(ctx, store.ConcatPaths(a.path, parent)); err != nil {
				return err
			}
			fitErrGroup = true
		}

		path := store.ConcatPaths(a.path, name)
		if _, err := a.data.file.store.CreateDataset(ctx, path, f.d.Values,
			store.WithCompression(a.data.file.compression)); err != nil {
			return err
		}
		units := f.d.Units
		if units == "" {
			units = defaultQuantityUnits(f.q)
		}
		if units != "" {
			if err := a.data.file.attachUnit(ctx, path, units); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkQuantityShape validates a quantity array shape against the expected
// spatial shape. CovMatrix may extend it with trailing matrix axes.
func checkQuantityShape(q Quantity, expected, actual []int) error {
	ok := false
	if q == CovMatrix {
		if len(actual) >= len(expected) {
			ok = intsEqual(actual[:len(expected)], expected)
		}
	} else {
		ok = intsEqual(actual, expected)
	}
	if !ok {
		return &ErrShapeMismatch{Quantity: q, Expected: intsCopy(expected), Actual: intsCopy(actual)}
	}
	return nil
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intsCopy(v []int) []int {
	return append([]int(nil), v...)
}

// quantityKey identifies one stored quantity dataset.
type quantityKey struct {
	quantity  Quantity
	peak      PeakType
	peakIndex int
}

// listStored enumerates the quantity datasets persisted in the group.
func (a *AnalysisResults) listStored(ctx context.Context) ([]quantityKey, error) {
	names, err := a.data.file.store.ListObjects(ctx, a.path)
	if err != nil {
		return nil, err
	}
	var keys []quantityKey
	for _, name := range names {
		base, peak, peakIndex, ok := parseQuantityName(name)
		if !ok {
			continue
		}
		if base == "Fit_error" {
			children, err := a.data.file.store.ListObjects(ctx, store.ConcatPaths(a.path, name))
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if q, ok := quantityByName(child); ok && q.isFitError() {
					keys = append(keys, quantityKey{q, peak, peakIndex})
				}
			}
			continue
		}
		if q, ok := quantityByName(base); ok && !q.isFitError() && q != ElasticContrast {
			keys = append(keys, quantityKey{q, peak, peakIndex})
		}
	}
	return keys, nil
}

// parseQuantityName splits "<Base>_<AS|S>_<n>" into its parts, parsing from
// the right since base names may contain underscores.
func parseQuantityName(name string) (base string, peak PeakType, peakIndex int, ok bool) {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return "", 0, 0, false
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil || idx < 0 {
		return "", 0, 0, false
	}
	rest := name[:i]
	j := strings.LastIndexByte(rest, '_')
	if j < 0 {
		return "", 0, 0, false
	}
	switch rest[j+1:] {
	case AntiStokes.Token():
		peak = AntiStokes
	case Stokes.Token():
		peak = Stokes
	default:
		return "", 0, 0, false
	}
	return rest[:j], peak, idx, true
}

func quantityByName(name string) (Quantity, bool) {
	for q, n := range quantityNames {
		if n == name {
			return q, true
		}
	}
	return 0, false
}

// Exists reports whether the quantity can be obtained for the given peak
// type and peak index, including the derived average and elastic contrast.
func (a *AnalysisResults) Exists(ctx context.Context, q Quantity, p PeakType, peakIndex int) (bool, error) {
	if q == ElasticContrast {
		return a.Exists(ctx, Shift, p, peakIndex)
	}
	if p == Average {
		for _, sp := range storedPeakTypes {
			ok, err := a.Exists(ctx, q, sp, peakIndex)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	name, err := quantityDatasetName(q, p, peakIndex)
	if err != nil {
		return false, err
	}
	return a.data.file.store.ObjectExists(ctx, store.ConcatPaths(a.path, name))
}

// ListExistingQuantities returns the distinct quantities available in the
// group, in deterministic order. ElasticContrast is appended when Shift is
// stored, since it can always be derived from it.
func (a *AnalysisResults) ListExistingQuantities(ctx context.Context) ([]Quantity, error) {
	keys, err := a.listStored(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[Quantity]bool, len(keys))
	for _, k := range keys {
		present[k.quantity] = true
	}
	var out []Quantity
	for _, q := range StoredQuantities() {
		if present[q] {
			out = append(out, q)
			if q == Shift {
				out = append(out, ElasticContrast)
			}
		}
	}
	return out, nil
}

// ListExistingPeakTypes returns the peak types for which the quantity is
// stored at the given peak index, appending Average when at least one is.
func (a *AnalysisResults) ListExistingPeakTypes(ctx context.Context, q Quantity, peakIndex int) ([]PeakType, error) {
	var out []PeakType
	for _, p := range storedPeakTypes {
		ok, err := a.Exists(ctx, q, p, peakIndex)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		out = append(out, Average)
	}
	return out, nil
}

// storedQuantityArray reads one persisted quantity dataset in full,
// together with its unit.
func (a *AnalysisResults) storedQuantityArray(ctx context.Context, q Quantity, p PeakType, peakIndex int) (*sparse.DenseArray, string, error) {
	name, err := quantityDatasetName(q, p, peakIndex)
	if err != nil {
		return nil, "", err
	}
	path := store.ConcatPaths(a.path, name)
	ds, err := a.data.file.store.OpenDataset(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s for %s peak %d", ErrNotFound, q, p, peakIndex)
		}
		return nil, "", err
	}
	arr, err := ds.Read(ctx)
	if err != nil {
		return nil, "", err
	}
	units, err := a.data.file.unitOf(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return arr, units, nil
}

// quantityArray obtains a quantity over the whole group in stored layout
// (flat rows for sparse groups), deriving averages and elastic contrast on
// demand.
func (a *AnalysisResults) quantityArray(ctx context.Context, q Quantity, p PeakType, peakIndex int) (*sparse.DenseArray, string, error) {
	if q == ElasticContrast {
		shift, units, err := a.quantityArray(ctx, Shift, p, peakIndex)
		if err != nil {
			return nil, "", err
		}
		contrast, err := a.elasticContrast(ctx, shift, units)
		if err != nil {
			return nil, "", err
		}
		return contrast, "", nil
	}
	if p == Average {
		return a.averagedArray(ctx, q, peakIndex)
	}
	return a.storedQuantityArray(ctx, q, p, peakIndex)
}

// Quantity obtains a quantity over the whole group in its stored layout:
// (z, y, x) for dense groups, one flat row per spectrum for sparse ones.
func (a *AnalysisResults) Quantity(ctx context.Context, q Quantity, p PeakType, peakIndex int) (*sparse.DenseArray, string, error) {
	return a.quantityArray(ctx, q, p, peakIndex)
}

// Image obtains a quantity as a (z, y, x, ...) volume. For sparse groups
// the stored rows are scattered into the volume and empty voxels are NaN.
func (a *AnalysisResults) Image(ctx context.Context, q Quantity, p PeakType, peakIndex int) (*sparse.DenseArray, string, error) {
	arr, units, err := a.quantityArray(ctx, q, p, peakIndex)
	if err != nil {
		return nil, "", err
	}
	if !a.data.sparse {
		return arr, units, nil
	}
	m, err := a.data.mapping(ctx)
	if err != nil {
		return nil, "", err
	}
	return scatterRows(m.volume, arr), units, nil
}

// QuantityAt obtains a single voxel value. Empty voxels of sparse groups
// yield NaN.
func (a *AnalysisResults) QuantityAt(ctx context.Context, q Quantity, p PeakType, peakIndex int, coord [3]int) (QuantityValue, error) {
	if q == CovMatrix && p == Average {
		return a.averageMatrixAt(ctx, peakIndex, coord)
	}
	if q == ElasticContrast || p == Average {
		// Derived values need the whole shift field for sign detection
		// and peak averaging.
		arr, units, err := a.quantityArray(ctx, q, p, peakIndex)
		if err != nil {
			return QuantityValue{}, err
		}
		v, err := a.valueAt(ctx, arr, coord)
		if err != nil {
			return QuantityValue{}, err
		}
		return QuantityValue{Value: v, Units: units}, nil
	}

	name, err := quantityDatasetName(q, p, peakIndex)
	if err != nil {
		return QuantityValue{}, err
	}
	path := store.ConcatPaths(a.path, name)
	ds, err := a.data.file.store.OpenDataset(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return QuantityValue{}, fmt.Errorf("%w: %s for %s peak %d", ErrNotFound, q, p, peakIndex)
		}
		return QuantityValue{}, err
	}
	units, err := a.data.file.unitOf(ctx, path)
	if err != nil {
		return QuantityValue{}, err
	}

	ref, err := a.data.Resolve(ctx, coord)
	if err != nil {
		return QuantityValue{}, err
	}
	if q == CovMatrix {
		if a.data.sparse && ref.IsEmpty() {
			return QuantityValue{Value: math.NaN(), Units: units}, nil
		}
		prefix := coord[:]
		if a.data.sparse {
			prefix = []int{ref.Index()}
		}
		m, err := ds.ReadSlab(ctx, prefix...)
		if err != nil {
			return QuantityValue{}, err
		}
		return QuantityValue{Value: math.NaN(), Matrix: m, Units: units}, nil
	}
	if !a.data.sparse {
		v, err := ds.At(ctx, coord[0], coord[1], coord[2])
		if err != nil {
			return QuantityValue{}, err
		}
		return QuantityValue{Value: v, Units: units}, nil
	}
	if ref.IsEmpty() {
		return QuantityValue{Value: math.NaN(), Units: units}, nil
	}
	v, err := ds.At(ctx, ref.Index())
	if err != nil {
		return QuantityValue{}, err
	}
	return QuantityValue{Value: v, Units: units}, nil
}

// averageMatrixAt collapses the covariance matrices of all stored peaks at
// one voxel to the mean of their absolute entries.
func (a *AnalysisResults) averageMatrixAt(ctx context.Context, peakIndex int, coord [3]int) (QuantityValue, error) {
	var present []QuantityValue
	for _, p := range storedPeakTypes {
		ok, err := a.Exists(ctx, CovMatrix, p, peakIndex)
		if err != nil {
			return QuantityValue{}, err
		}
		if !ok {
			continue
		}
		v, err := a.QuantityAt(ctx, CovMatrix, p, peakIndex, coord)
		if err != nil {
			return QuantityValue{}, err
		}
		present = append(present, v)
	}
	if len(present) == 0 {
		return QuantityValue{}, fmt.Errorf("%w: %s peak %d", ErrNoPeaks, CovMatrix, peakIndex)
	}
	return averageCovMatrix(present), nil
}

// valueAt picks the voxel value out of an in-memory quantity array in
// stored layout.
func (a *AnalysisResults) valueAt(ctx context.Context, arr *sparse.DenseArray, coord [3]int) (float64, error) {
	ref, err := a.data.Resolve(ctx, coord)
	if err != nil {
		return 0, err
	}
	if !a.data.sparse {
		return arr.Get(coord[0], coord[1], coord[2]), nil
	}
	if ref.IsEmpty() || ref.Index() >= len(arr.Elements) {
		return math.NaN(), nil
	}
	return arr.Elements[ref.Index()], nil
}
