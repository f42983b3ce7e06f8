package brimfile

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a group, dataset or index does not exist.
	ErrNotFound = errors.New("brimfile: not found")

	// ErrInvalidFile is returned when a container is not a valid brim file.
	ErrInvalidFile = errors.New("brimfile: not a valid brim file")

	// ErrNoSpatialMapping is returned when sparse data carries neither an
	// index volume nor reconstructible scan coordinates.
	ErrNoSpatialMapping = errors.New("brimfile: no spatial mapping available")

	// ErrMissingWavelength is returned when elastic contrast is requested
	// but the instrument wavelength is absent from the metadata. There is
	// no physically substitutable default.
	ErrMissingWavelength = errors.New("brimfile: wavelength metadata required for elastic contrast")

	// ErrNoPeaks is returned when the cross-peak average is requested for a
	// peak index that has no stored peak types at all.
	ErrNoPeaks = errors.New("brimfile: no peak types exist for the requested peak index")
)

// ErrShapeMismatch indicates a quantity array whose shape does not match the
// non-spectral shape of the PSD dataset.
type ErrShapeMismatch struct {
	Quantity Quantity
	Expected []int
	Actual   []int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("brimfile: shape of %s is %v, want %v to match the PSD", e.Quantity, e.Actual, e.Expected)
}

// ErrOutOfRange indicates a coordinate or row index outside the addressable
// volume.
type ErrOutOfRange struct {
	Index []int
	Shape []int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("brimfile: index %v out of range for shape %v", e.Index, e.Shape)
}

// ErrInvalidCoordinates indicates malformed scan coordinate arrays in the
// stored spatial map.
type ErrInvalidCoordinates struct {
	Axis string
	Len  int
	Want int
}

func (e *ErrInvalidCoordinates) Error() string {
	return fmt.Sprintf("brimfile: coordinate axis %q has %d values, want %d", e.Axis, e.Len, e.Want)
}
