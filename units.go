package brimfile

import (
	"context"
	"errors"

	"github.com/prevedel-lab/brimfile/store"
)

// The unit ledger stores the unit of an object in a "units" attribute next
// to it, and the unit of an attribute in a "<attr>_units" sibling attribute.
const unitsAttrKey = "units"

func attrUnitsKey(attr string) string {
	return attr + "_units"
}

// Item pairs a value with its unit string. An empty Units means the value
// is dimensionless or the unit was never recorded.
type Item struct {
	Value any
	Units string
}

// Float returns the value coerced to float64.
func (it Item) Float() (float64, bool) {
	return asFloat(it.Value)
}

// unitOf returns the unit attached to the object at path, or "" if none.
func (f *File) unitOf(ctx context.Context, path string) (string, error) {
	return f.readUnitAttr(ctx, path, unitsAttrKey)
}

// attachUnit attaches a unit to the object at path.
func (f *File) attachUnit(ctx context.Context, path, units string) error {
	return f.store.SetAttr(ctx, path, unitsAttrKey, units)
}

// unitOfAttr returns the unit attached to the named attribute of an object,
// or "" if none.
func (f *File) unitOfAttr(ctx context.Context, path, attr string) (string, error) {
	return f.readUnitAttr(ctx, path, attrUnitsKey(attr))
}

// attachAttrUnit attaches a unit to the named attribute of an object.
func (f *File) attachAttrUnit(ctx context.Context, path, attr, units string) error {
	return f.store.SetAttr(ctx, path, attrUnitsKey(attr), units)
}

func (f *File) readUnitAttr(ctx context.Context, path, key string) (string, error) {
	v, err := f.store.GetAttr(ctx, path, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
