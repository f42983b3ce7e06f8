package brimfile

import (
	"context"
	"errors"
	"math"

	"github.com/ctessum/sparse"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Defaults applied when the metadata needed for the elastic contrast is
// incomplete. The wavelength has no safe default and is always required.
const (
	defaultTemperatureC       = 22.0
	defaultScatteringAngleDeg = 180.0
)

// averagedArray derives the cross-peak average of a quantity: the stored
// peaks are fetched concurrently, and where both exist the average of their
// magnitudes is returned. A single stored peak passes through unchanged.
func (a *AnalysisResults) averagedArray(ctx context.Context, q Quantity, peakIndex int) (*sparse.DenseArray, string, error) {
	arrs := make([]*sparse.DenseArray, len(storedPeakTypes))
	units := make([]string, len(storedPeakTypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range storedPeakTypes {
		i, p := i, p
		g.Go(func() error {
			ok, err := a.Exists(gctx, q, p, peakIndex)
			if err != nil || !ok {
				return err
			}
			arrs[i], units[i], err = a.storedQuantityArray(gctx, q, p, peakIndex)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	var present []*sparse.DenseArray
	var presentUnits []string
	for i, arr := range arrs {
		if arr != nil {
			present = append(present, arr)
			presentUnits = append(presentUnits, units[i])
		}
	}
	switch len(present) {
	case 0:
		return nil, "", ErrNoPeaks
	case 1:
		return present[0], presentUnits[0], nil
	}

	if presentUnits[0] != presentUnits[1] {
		a.data.file.logger.Warn("averaging peaks with mismatched units",
			"path", a.path, "quantity", q.String(),
			"units", presentUnits[0], "other", presentUnits[1])
	}
	out := sparse.ZerosDense(intsCopy(present[0].Shape)...)
	for i, v := range present[0].Elements {
		out.Elements[i] = math.Abs(v)
	}
	other := make([]float64, len(present[1].Elements))
	for i, v := range present[1].Elements {
		other[i] = math.Abs(v)
	}
	floats.Add(out.Elements, other)
	floats.Scale(0.5, out.Elements)
	return out, presentUnits[0], nil
}

// elasticContrast derives the elastic contrast from a shift field: the
// relative deviation of each shift from the Brillouin shift of water under
// the instrument's wavelength, temperature and scattering angle. The
// result is dimensionless.
func (a *AnalysisResults) elasticContrast(ctx context.Context, shift *sparse.DenseArray, shiftUnits string) (*sparse.DenseArray, error) {
	if shiftUnits != "" && shiftUnits != "GHz" {
		a.data.file.logger.Warn("shift stored in unexpected units, treating as GHz",
			"path", a.path, "units", shiftUnits)
	}

	md := a.data.Metadata()
	var wavelength, temperature, angle float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := md.wavelengthNm(gctx)
		if errors.Is(err, ErrNotFound) {
			return ErrMissingWavelength
		}
		wavelength = v
		return err
	})
	g.Go(func() error {
		v, err := md.temperatureC(gctx)
		if errors.Is(err, ErrNotFound) {
			a.data.file.logger.Warn("temperature not stored, assuming default",
				"path", a.path, "default_C", defaultTemperatureC)
			temperature = defaultTemperatureC
			return nil
		}
		temperature = v
		return err
	})
	g.Go(func() error {
		v, err := md.scatteringAngleDeg(gctx)
		if errors.Is(err, ErrNotFound) {
			a.data.file.logger.Warn("scattering angle not stored, assuming default",
				"path", a.path, "default_deg", defaultScatteringAngleDeg)
			angle = defaultScatteringAngleDeg
			return nil
		}
		angle = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	water := brillouinShiftWater(wavelength, temperature, angle)
	if nanMean(shift.Elements) < 0 {
		water = -water
	}

	out := sparse.ZerosDense(intsCopy(shift.Shape)...)
	copy(out.Elements, shift.Elements)
	floats.Scale(1/water, out.Elements)
	floats.AddConst(-1, out.Elements)
	return out, nil
}

// nanMean averages the finite values of v, ignoring NaNs. It returns NaN
// when no value is finite.
func nanMean(v []float64) float64 {
	sum := 0.0
	n := 0
	for _, x := range v {
		if math.IsNaN(x) {
			continue
		}
		sum += x
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
