package brimfile

import (
	"context"
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/require"
)

func TestAllQuantitiesAt_PartialAbsence(t *testing.T) {
	ctx := context.Background()
	_, d, a, _ := newDenseAnalysis(t)

	// only the anti-Stokes shift was fitted
	shift := quantityVolume(5)
	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: shift}}))
	require.NoError(t, d.Metadata().Set(ctx, MetadataWavelength, Item{Value: 532.0, Units: "nm"}))
	require.NoError(t, d.Metadata().Set(ctx, MetadataTemperature, Item{Value: 22.0, Units: "C"}))
	require.NoError(t, d.Metadata().Set(ctx, MetadataScatteringAngle, Item{Value: 180.0, Units: "deg"}))

	values, err := a.AllQuantitiesAt(ctx, 0, [3]int{0, 1, 2})
	require.NoError(t, err)

	// absent quantities have no key at all
	require.NotContains(t, values, Width.String())
	require.NotContains(t, values, Amplitude.String())

	shifts := values[Shift.String()]
	require.Contains(t, shifts, AntiStokes.String())
	require.NotContains(t, shifts, Stokes.String())
	require.Equal(t, shift.Get(0, 1, 2), shifts[AntiStokes.String()].Value)
	require.Equal(t, "GHz", shifts[AntiStokes.String()].Units)

	// a lone peak passes through as the average
	require.Equal(t, shifts[AntiStokes.String()].Value, shifts[Average.String()].Value)

	water := brillouinShiftWater(532, 22, 180)
	contrast := values[ElasticContrast.String()]
	require.InDelta(t, shift.Get(0, 1, 2)/water-1, contrast[AntiStokes.String()].Value, 1e-12)
	require.InDelta(t, contrast[AntiStokes.String()].Value, contrast[Average.String()].Value, 1e-12)
	require.NotContains(t, contrast, Stokes.String())
}

func TestAllQuantitiesAt_BothPeaks(t *testing.T) {
	ctx := context.Background()
	_, d, a, _ := newDenseAnalysis(t)

	as := quantityVolume(5)
	st := quantityVolume(0)
	for i := range st.Elements {
		st.Elements[i] = -(as.Elements[i] + 0.2)
	}
	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{
		Shift: QuantityData{Values: as},
		Width: QuantityData{Values: quantityVolume(0.5)},
	}))
	require.NoError(t, a.AddData(ctx, Stokes, 0, PeakData{
		Shift: QuantityData{Values: st},
	}))
	require.NoError(t, d.Metadata().Set(ctx, MetadataWavelength, Item{Value: 532.0, Units: "nm"}))

	coord := [3]int{1, 2, 0}
	values, err := a.AllQuantitiesAt(ctx, 0, coord)
	require.NoError(t, err)

	wantAvg := (math.Abs(as.Get(1, 2, 0)) + math.Abs(st.Get(1, 2, 0))) / 2
	require.InDelta(t, wantAvg, values[Shift.String()][Average.String()].Value, 1e-12)

	// width exists only for the anti-Stokes peak; its average passes through
	widths := values[Width.String()]
	require.NotContains(t, widths, Stokes.String())
	require.Equal(t, widths[AntiStokes.String()].Value, widths[Average.String()].Value)

	// all three contrast entries are synthesized from the shifts
	require.Len(t, values[ElasticContrast.String()], 3)
}

func TestAllQuantitiesAt_CovMatrix(t *testing.T) {
	ctx := context.Background()
	_, _, a, _ := newDenseAnalysis(t)

	cov := sparse.ZerosDense(2, 3, 4, 2, 2)
	for i := range cov.Elements {
		cov.Elements[i] = float64(i%7) - 3
	}
	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{
		CovMatrix: QuantityData{Values: cov},
	}))

	coord := [3]int{1, 2, 3}
	values, err := a.AllQuantitiesAt(ctx, 0, coord)
	require.NoError(t, err)

	covs := values[CovMatrix.String()]
	require.Contains(t, covs, AntiStokes.String())
	require.NotContains(t, covs, Stokes.String())

	// stored entries carry the per-voxel matrix
	got := covs[AntiStokes.String()]
	require.True(t, math.IsNaN(got.Value))
	require.Equal(t, []int{2, 2}, got.Matrix.Shape)
	require.Equal(t, cov.Get(1, 2, 3, 0, 1), got.Matrix.Get(0, 1))

	// the average collapses to the mean of the absolute matrix entries
	want := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want += math.Abs(cov.Get(1, 2, 3, i, j))
		}
	}
	want /= 4
	avg := covs[Average.String()]
	require.Nil(t, avg.Matrix)
	require.InDelta(t, want, avg.Value, 1e-12)

	// the point read agrees with the fetch protocol
	v, err := a.QuantityAt(ctx, CovMatrix, AntiStokes, 0, coord)
	require.NoError(t, err)
	require.Equal(t, got.Matrix.Elements, v.Matrix.Elements)

	v, err = a.QuantityAt(ctx, CovMatrix, Average, 0, coord)
	require.NoError(t, err)
	require.InDelta(t, want, v.Value, 1e-12)
}

func TestSpectrumAndAllQuantitiesAt(t *testing.T) {
	ctx := context.Background()
	_, d, a, _ := newDenseAnalysis(t)

	shift := quantityVolume(5)
	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: shift}}))
	require.NoError(t, d.Metadata().Set(ctx, MetadataWavelength, Item{Value: 532.0, Units: "nm"}))

	coord := [3]int{0, 2, 1}
	freq, psd, values, err := d.SpectrumAndAllQuantitiesAt(ctx, 0, 0, coord)
	require.NoError(t, err)
	require.Len(t, freq.Elements, 5)
	require.Len(t, psd.Elements, 5)
	require.Equal(t, shift.Get(0, 2, 1), values[Shift.String()][AntiStokes.String()].Value)

	_, _, _, err = d.SpectrumAndAllQuantitiesAt(ctx, 9, 0, coord)
	require.ErrorIs(t, err, ErrNotFound)
}
