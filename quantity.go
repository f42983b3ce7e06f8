package brimfile

import "fmt"

// Quantity identifies a physical field produced by the spectral fit.
type Quantity int

// The closed set of quantities. ElasticContrast is never stored; it is
// always derived from Shift and the instrument metadata.
const (
	Shift Quantity = iota
	ElasticContrast
	Width
	Amplitude
	Offset
	R2
	RMSE
	CovMatrix
)

var quantityNames = map[Quantity]string{
	Shift:           "Shift",
	ElasticContrast: "Elastic_contrast",
	Width:           "Width",
	Amplitude:       "Amplitude",
	Offset:          "Offset",
	R2:              "R2",
	RMSE:            "RMSE",
	CovMatrix:       "Cov_matrix",
}

func (q Quantity) String() string {
	if name, ok := quantityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("Quantity(%d)", int(q))
}

// StoredQuantities returns every quantity persisted in the container, in the
// deterministic order used for existence probing and listings.
func StoredQuantities() []Quantity {
	return []Quantity{Shift, Width, Amplitude, Offset, R2, RMSE, CovMatrix}
}

// isFitError reports whether the quantity lives in the per-peak Fit_error
// sub-group rather than as a flat dataset.
func (q Quantity) isFitError() bool {
	return q == R2 || q == RMSE || q == CovMatrix
}

// PeakType identifies the side of the spectrum a fitted peak belongs to.
type PeakType int

const (
	// AntiStokes is the anti-Stokes peak, stored under the token "AS".
	AntiStokes PeakType = iota
	// Stokes is the Stokes peak, stored under the token "S".
	Stokes
	// Average is the virtual cross-peak average. It is never persisted.
	Average
)

func (p PeakType) String() string {
	switch p {
	case AntiStokes:
		return "AntiStokes"
	case Stokes:
		return "Stokes"
	case Average:
		return "average"
	default:
		return fmt.Sprintf("PeakType(%d)", int(p))
	}
}

// Token returns the fixed storage token of the peak type.
func (p PeakType) Token() string {
	switch p {
	case AntiStokes:
		return "AS"
	case Stokes:
		return "S"
	case Average:
		return "avg"
	default:
		return ""
	}
}

// storedPeakTypes is the deterministic probe order for persisted peak types.
var storedPeakTypes = []PeakType{AntiStokes, Stokes}

// quantityDatasetName returns the dataset name of a stored quantity relative
// to its analysis group: "{Quantity}_{PeakToken}_{Index}" for flat
// quantities, "Fit_error_{PeakToken}_{Index}/{Quantity}" for the fit-error
// group.
func quantityDatasetName(q Quantity, p PeakType, peakIndex int) (string, error) {
	if p != AntiStokes && p != Stokes {
		return "", fmt.Errorf("brimfile: peak type %s is not persisted", p)
	}
	if q == ElasticContrast {
		return "", fmt.Errorf("brimfile: %s is computed on demand and not stored", q)
	}
	if q.isFitError() {
		return fmt.Sprintf("Fit_error_%s_%d/%s", p.Token(), peakIndex, q), nil
	}
	return fmt.Sprintf("%s_%s_%d", q, p.Token(), peakIndex), nil
}

// FitModel is the functional form used upstream to fit a spectral peak,
// attached once per analysis group as metadata.
type FitModel int

const (
	FitModelUndefined FitModel = iota
	FitModelLorentzian
	FitModelDHO
	FitModelGaussian
	FitModelVoigt
	FitModelCustom
)

var fitModelNames = map[FitModel]string{
	FitModelUndefined:  "Undefined",
	FitModelLorentzian: "Lorentzian",
	FitModelDHO:        "DHO",
	FitModelGaussian:   "Gaussian",
	FitModelVoigt:      "Voigt",
	FitModelCustom:     "Custom",
}

func (m FitModel) String() string {
	if name, ok := fitModelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("FitModel(%d)", int(m))
}

// ParseFitModel maps a stored attribute value back to a FitModel.
// Unrecognized values report ok == false; callers degrade to Undefined.
func ParseFitModel(s string) (FitModel, bool) {
	for m, name := range fitModelNames {
		if name == s {
			return m, true
		}
	}
	return FitModelUndefined, false
}
