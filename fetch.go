package brimfile

import (
	"context"
	"math"

	"github.com/ctessum/sparse"
	"golang.org/x/sync/errgroup"
)

// AllQuantitiesAt fetches every available non-derived quantity at one voxel,
// keyed by quantity name and then by peak type name. Both stored peak types
// are fetched concurrently; within a peak type every quantity is probed
// first and the present ones are fetched together. Entries for the
// cross-peak average and the elastic contrast are synthesized afterwards.
// CovMatrix entries carry the per-voxel matrix; its average collapses to
// the mean of the absolute matrix entries. Quantities absent from the group
// simply have no key.
func (a *AnalysisResults) AllQuantitiesAt(ctx context.Context, peakIndex int, coord [3]int) (map[string]map[string]QuantityValue, error) {
	perPeak := make([]map[Quantity]QuantityValue, len(storedPeakTypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range storedPeakTypes {
		i, p := i, p
		g.Go(func() error {
			m, err := a.peakValuesAt(gctx, p, peakIndex, coord)
			perPeak[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]QuantityValue)
	put := func(q, p string, v QuantityValue) {
		if out[q] == nil {
			out[q] = make(map[string]QuantityValue)
		}
		out[q][p] = v
	}
	for i, p := range storedPeakTypes {
		for q, v := range perPeak[i] {
			put(q.String(), p.String(), v)
		}
	}

	for _, q := range StoredQuantities() {
		var present []QuantityValue
		for i := range storedPeakTypes {
			if v, ok := perPeak[i][q]; ok {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			continue
		}
		if len(present) == 2 && present[0].Units != present[1].Units {
			a.data.file.logger.Warn("averaging peaks with mismatched units",
				"path", a.path, "quantity", q.String(),
				"units", present[0].Units, "other", present[1].Units)
		}
		if q == CovMatrix {
			put(q.String(), Average.String(), averageCovMatrix(present))
			continue
		}
		switch len(present) {
		case 1:
			put(q.String(), Average.String(), present[0])
		case 2:
			put(q.String(), Average.String(), QuantityValue{
				Value: (math.Abs(present[0].Value) + math.Abs(present[1].Value)) / 2,
				Units: present[0].Units,
			})
		}
	}

	if shifts, ok := out[Shift.String()]; ok {
		for _, p := range []PeakType{AntiStokes, Stokes, Average} {
			if _, ok := shifts[p.String()]; !ok {
				continue
			}
			v, err := a.QuantityAt(ctx, ElasticContrast, p, peakIndex, coord)
			if err != nil {
				return nil, err
			}
			put(ElasticContrast.String(), p.String(), v)
		}
	}
	return out, nil
}

// averageCovMatrix collapses the covariance matrices of the present peaks
// to the mean of their absolute entries, NaN when no matrix was readable
// (empty voxel of a sparse group).
func averageCovMatrix(present []QuantityValue) QuantityValue {
	sum, n := 0.0, 0
	for _, v := range present {
		if v.Matrix == nil {
			continue
		}
		for _, x := range v.Matrix.Elements {
			sum += math.Abs(x)
			n++
		}
	}
	out := QuantityValue{Value: math.NaN(), Units: present[0].Units}
	if n > 0 {
		out.Value = sum / float64(n)
	}
	return out
}

// peakValuesAt probes every non-derived quantity of one stored peak type,
// then fetches the present ones concurrently.
func (a *AnalysisResults) peakValuesAt(ctx context.Context, p PeakType, peakIndex int, coord [3]int) (map[Quantity]QuantityValue, error) {
	qs := StoredQuantities()
	exists := make([]bool, len(qs))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range qs {
		i, q := i, q
		g.Go(func() error {
			ok, err := a.Exists(gctx, q, p, peakIndex)
			exists[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vals := make([]QuantityValue, len(qs))
	g, gctx = errgroup.WithContext(ctx)
	for i, q := range qs {
		if !exists[i] {
			continue
		}
		i, q := i, q
		g.Go(func() error {
			v, err := a.QuantityAt(gctx, q, p, peakIndex, coord)
			vals[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[Quantity]QuantityValue)
	for i, q := range qs {
		if exists[i] {
			out[q] = vals[i]
		}
	}
	return out, nil
}

// SpectrumAndAllQuantitiesAt fetches the spectrum of a voxel together with
// every available quantity of one analysis group, concurrently.
func (d *Data) SpectrumAndAllQuantitiesAt(ctx context.Context, analysisIndex, peakIndex int, coord [3]int) (frequency, psd *sparse.DenseArray, values map[string]map[string]QuantityValue, err error) {
	a, err := d.AnalysisResults(ctx, analysisIndex)
	if err != nil {
		return nil, nil, nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		frequency, psd, err = d.Spectrum(gctx, coord)
		return err
	})
	g.Go(func() error {
		var err error
		values, err = a.AllQuantitiesAt(gctx, peakIndex, coord)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return frequency, psd, values, nil
}
