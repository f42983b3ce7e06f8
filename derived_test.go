package brimfile

import (
	"context"
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/require"
)

func TestWaterSpeedOfSound(t *testing.T) {
	// sanity against tabulated values: ~1484 m/s at 20 °C, rising with
	// temperature over the fit's validity range
	v20 := waterSpeedOfSound(20)
	v37 := waterSpeedOfSound(37)
	require.InDelta(t, 1484.5, v20, 1)
	require.Greater(t, v37, v20)
	require.InDelta(t, 1523, v37, 3)
}

func TestBrillouinShiftWater(t *testing.T) {
	// backscattering at 532 nm and room temperature lands near 7.5 GHz
	shift := brillouinShiftWater(532, 22, 180)
	require.InDelta(t, 7.46, shift, 0.05)

	// a smaller scattering angle reduces the shift
	require.Less(t, brillouinShiftWater(532, 22, 90), shift)
}

func TestAverage_BothPeaks(t *testing.T) {
	ctx := context.Background()
	_, _, a, _ := newDenseAnalysis(t)

	as := quantityVolume(5)
	st := quantityVolume(0) // fill below with negated values
	for i := range st.Elements {
		st.Elements[i] = -(as.Elements[i] + 0.2)
	}
	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: as}}))
	require.NoError(t, a.AddData(ctx, Stokes, 0, PeakData{Shift: QuantityData{Values: st}}))

	got, units, err := a.Quantity(ctx, Shift, Average, 0)
	require.NoError(t, err)
	require.Equal(t, "GHz", units)
	for i := range got.Elements {
		want := (math.Abs(as.Elements[i]) + math.Abs(st.Elements[i])) / 2
		require.InDelta(t, want, got.Elements[i], 1e-12)
	}
}

func TestAverage_SinglePeakPassesThrough(t *testing.T) {
	ctx := context.Background()
	_, _, a, _ := newDenseAnalysis(t)

	st := quantityVolume(0)
	for i := range st.Elements {
		st.Elements[i] = -5 - float64(i)/100
	}
	require.NoError(t, a.AddData(ctx, Stokes, 0, PeakData{Shift: QuantityData{Values: st}}))

	// a lone peak is returned as stored, sign included
	got, _, err := a.Quantity(ctx, Shift, Average, 0)
	require.NoError(t, err)
	require.Equal(t, st.Elements, got.Elements)
}

func TestAverage_NoPeaks(t *testing.T) {
	ctx := context.Background()
	_, _, a, _ := newDenseAnalysis(t)

	_, _, err := a.Quantity(ctx, Width, Average, 0)
	require.ErrorIs(t, err, ErrNoPeaks)
}

func TestAverage_UnitMismatchWarns(t *testing.T) {
	ctx := context.Background()
	_, _, a, h := newDenseAnalysis(t)

	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{
		Width: QuantityData{Values: quantityVolume(0.5), Units: "GHz"},
	}))
	require.NoError(t, a.AddData(ctx, Stokes, 0, PeakData{
		Width: QuantityData{Values: quantityVolume(0.5), Units: "MHz"},
	}))

	_, units, err := a.Quantity(ctx, Width, Average, 0)
	require.NoError(t, err)
	require.Equal(t, "GHz", units)
	require.Contains(t, h.messages(), "averaging peaks with mismatched units")
}

func TestElasticContrast(t *testing.T) {
	ctx := context.Background()
	_, d, a, _ := newDenseAnalysis(t)

	shift := quantityVolume(5)
	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: shift}}))

	md := d.Metadata()
	require.NoError(t, md.Set(ctx, MetadataWavelength, Item{Value: 532.0, Units: "nm"}))
	require.NoError(t, md.Set(ctx, MetadataTemperature, Item{Value: 22.0, Units: "C"}))
	require.NoError(t, md.Set(ctx, MetadataScatteringAngle, Item{Value: 180.0, Units: "deg"}))

	got, units, err := a.Quantity(ctx, ElasticContrast, AntiStokes, 0)
	require.NoError(t, err)
	require.Equal(t, "", units) // always dimensionless

	water := brillouinShiftWater(532, 22, 180)
	for i := range got.Elements {
		require.InDelta(t, shift.Elements[i]/water-1, got.Elements[i], 1e-12)
	}

	v, err := a.QuantityAt(ctx, ElasticContrast, AntiStokes, 0, [3]int{0, 0, 0})
	require.NoError(t, err)
	require.InDelta(t, shift.Get(0, 0, 0)/water-1, v.Value, 1e-12)
}

func TestElasticContrast_SignConvention(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFile(t)
	psd, freq := densePSD()
	d, err := f.CreateDataGroup(ctx, psd, freq, [3]float64{1, 1, 1})
	require.NoError(t, err)

	md := d.Metadata()
	require.NoError(t, md.Set(ctx, MetadataWavelength, Item{Value: 532.0, Units: "nm"}))
	require.NoError(t, md.Set(ctx, MetadataTemperature, Item{Value: 22.0, Units: "C"}))
	require.NoError(t, md.Set(ctx, MetadataScatteringAngle, Item{Value: 180.0, Units: "deg"}))

	pos := quantityVolume(5)
	neg := sparse.ZerosDense(2, 3, 4)
	for i := range neg.Elements {
		neg.Elements[i] = -pos.Elements[i]
	}

	aPos, err := d.CreateAnalysisResults(ctx)
	require.NoError(t, err)
	require.NoError(t, aPos.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: pos}}))

	aNeg, err := d.CreateAnalysisResults(ctx)
	require.NoError(t, err)
	require.NoError(t, aNeg.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: neg}}))

	// the reference shift follows the sign convention of the data, so a
	// globally negated shift field yields the identical contrast
	cPos, _, err := aPos.Quantity(ctx, ElasticContrast, AntiStokes, 0)
	require.NoError(t, err)
	cNeg, _, err := aNeg.Quantity(ctx, ElasticContrast, AntiStokes, 0)
	require.NoError(t, err)
	for i := range cPos.Elements {
		require.InDelta(t, cPos.Elements[i], cNeg.Elements[i], 1e-12)
	}
}

func TestElasticContrast_MissingWavelength(t *testing.T) {
	ctx := context.Background()
	_, _, a, _ := newDenseAnalysis(t)

	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: quantityVolume(5)}}))

	_, _, err := a.Quantity(ctx, ElasticContrast, AntiStokes, 0)
	require.ErrorIs(t, err, ErrMissingWavelength)
}

func TestElasticContrast_DefaultsWarn(t *testing.T) {
	ctx := context.Background()
	_, d, a, h := newDenseAnalysis(t)

	require.NoError(t, a.AddData(ctx, AntiStokes, 0, PeakData{Shift: QuantityData{Values: quantityVolume(5)}}))
	require.NoError(t, d.Metadata().Set(ctx, MetadataWavelength, Item{Value: 532.0, Units: "nm"}))

	got, _, err := a.Quantity(ctx, ElasticContrast, AntiStokes, 0)
	require.NoError(t, err)

	msgs := h.messages()
	require.Contains(t, msgs, "temperature not stored, assuming default")
	require.Contains(t, msgs, "scattering angle not stored, assuming default")

	water := brillouinShiftWater(532, defaultTemperatureC, defaultScatteringAngleDeg)
	require.InDelta(t, quantityVolume(5).Elements[0]/water-1, got.Elements[0], 1e-12)
}

func TestNanMean(t *testing.T) {
	nan := math.NaN()
	require.Equal(t, 2.0, nanMean([]float64{1, 3, nan}))
	require.True(t, math.IsNaN(nanMean([]float64{nan, nan})))
	require.True(t, math.IsNaN(nanMean(nil)))
}
