// Package blob abstracts the flat object namespace a brim container is
// persisted in. A container maps every group, dataset chunk and attribute
// document onto one object key, so a Store only needs whole-object
// get/put semantics plus prefix listing.
package blob

import (
	"context"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for accessing the objects backing a container.
type Store interface {
	// Get reads the full content of the named object.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes an object atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the named object is present.
	// It must be a cheap metadata probe, never a full read.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns all object names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
