package brimfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantityDatasetName(t *testing.T) {
	name, err := quantityDatasetName(Shift, AntiStokes, 0)
	require.NoError(t, err)
	require.Equal(t, "Shift_AS_0", name)

	name, err = quantityDatasetName(Width, Stokes, 2)
	require.NoError(t, err)
	require.Equal(t, "Width_S_2", name)

	name, err = quantityDatasetName(R2, AntiStokes, 0)
	require.NoError(t, err)
	require.Equal(t, "Fit_error_AS_0/R2", name)

	name, err = quantityDatasetName(CovMatrix, Stokes, 1)
	require.NoError(t, err)
	require.Equal(t, "Fit_error_S_1/Cov_matrix", name)

	// virtual and derived quantities have no storage name
	_, err = quantityDatasetName(Shift, Average, 0)
	require.Error(t, err)
	_, err = quantityDatasetName(ElasticContrast, AntiStokes, 0)
	require.Error(t, err)
}

func TestParseQuantityName(t *testing.T) {
	base, peak, idx, ok := parseQuantityName("Shift_AS_0")
	require.True(t, ok)
	require.Equal(t, "Shift", base)
	require.Equal(t, AntiStokes, peak)
	require.Equal(t, 0, idx)

	base, peak, idx, ok = parseQuantityName("Fit_error_S_3")
	require.True(t, ok)
	require.Equal(t, "Fit_error", base)
	require.Equal(t, Stokes, peak)
	require.Equal(t, 3, idx)

	for _, bad := range []string{"Shift", "Shift_avg_0", "Shift_AS_x", "PSD"} {
		_, _, _, ok := parseQuantityName(bad)
		require.False(t, ok, bad)
	}
}

func TestParseFitModel(t *testing.T) {
	for _, m := range []FitModel{FitModelLorentzian, FitModelDHO, FitModelGaussian, FitModelVoigt, FitModelCustom} {
		got, ok := ParseFitModel(m.String())
		require.True(t, ok)
		require.Equal(t, m, got)
	}
	got, ok := ParseFitModel("polynomial")
	require.False(t, ok)
	require.Equal(t, FitModelUndefined, got)
}
