package brimfile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prevedel-lab/brimfile/store"
)

const metadataGroupName = "Metadata"

// Metadata keys consumed by the derived-quantity engine.
const (
	MetadataWavelength      = "Optics.Wavelength"
	MetadataTemperature     = "Experiment.Temperature"
	MetadataScatteringAngle = "Optics.Scattering_angle"
)

// Metadata looks up named scalar or physical values by dotted key
// (e.g. "Optics.Wavelength"). The dotted prefix maps to a sub-group of the
// Metadata group, the leaf to an attribute on it. Entries stored under the
// data group override the file-level entries of the same key.
type Metadata struct {
	file     *File
	dataPath string
}

// Metadata returns the metadata attached to this data group, merged over
// the file-level metadata.
func (d *Data) Metadata() *Metadata {
	return &Metadata{file: d.file, dataPath: d.path}
}

// Get returns the value and unit stored under the dotted key.
// A key absent at both levels returns an error satisfying
// errors.Is(err, ErrNotFound).
func (m *Metadata) Get(ctx context.Context, key string) (Item, error) {
	section, leaf, hasSection := strings.Cut(key, ".")
	if !hasSection {
		section, leaf = "", key
	}

	scopes := []string{m.dataPath, brillouinBasePath}
	for _, scope := range scopes {
		path := store.ConcatPaths(scope, metadataGroupName, section)
		value, err := m.file.store.GetAttr(ctx, path, leaf)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return Item{}, err
		}
		units, err := m.file.unitOfAttr(ctx, path, leaf)
		if err != nil {
			return Item{}, err
		}
		return Item{Value: value, Units: units}, nil
	}
	return Item{}, fmt.Errorf("%w: metadata key %q", ErrNotFound, key)
}

// Set stores the value and unit under the dotted key at the data-group
// level.
func (m *Metadata) Set(ctx context.Context, key string, item Item) error {
	section, leaf, hasSection := strings.Cut(key, ".")
	if !hasSection {
		section, leaf = "", key
	}
	path := store.ConcatPaths(m.dataPath, metadataGroupName, section)
	if _, err := m.file.store.CreateGroup(ctx, path); err != nil {
		return err
	}
	if err := m.file.store.SetAttr(ctx, path, leaf, item.Value); err != nil {
		return err
	}
	if item.Units != "" {
		return m.file.attachAttrUnit(ctx, path, leaf, item.Units)
	}
	return nil
}

func (m *Metadata) getFloat(ctx context.Context, key string) (float64, error) {
	item, err := m.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	v, ok := item.Float()
	if !ok {
		return 0, fmt.Errorf("brimfile: metadata key %q holds %T, want a number", key, item.Value)
	}
	return v, nil
}

// wavelengthNm returns the instrument wavelength in nanometers.
func (m *Metadata) wavelengthNm(ctx context.Context) (float64, error) {
	return m.getFloat(ctx, MetadataWavelength)
}

// temperatureC returns the sample temperature in °C.
func (m *Metadata) temperatureC(ctx context.Context) (float64, error) {
	return m.getFloat(ctx, MetadataTemperature)
}

// scatteringAngleDeg returns the scattering angle in degrees.
func (m *Metadata) scatteringAngleDeg(ctx context.Context) (float64, error) {
	return m.getFloat(ctx, MetadataScatteringAngle)
}
