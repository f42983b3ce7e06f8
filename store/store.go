// Package store implements the hierarchical container a brim file lives in.
//
// The layout follows the zarr v2 convention: every group carries a .zgroup
// marker document, every dataset a .zarray metadata document, and attributes
// live in a .zattrs JSON document next to the object they describe. Dataset
// values are split into chunks, each stored as one object in a pluggable
// blob backend (memory, local filesystem, S3, MinIO).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/prevedel-lab/brimfile/store/blob"
)

const (
	groupMetaName = ".zgroup"
	arrayMetaName = ".zarray"
	attrsName     = ".zattrs"

	zarrFormat = 2
)

// ErrNotFound is returned when a group, dataset or attribute does not exist.
var ErrNotFound = errors.New("store: object not found")

// ErrOutOfRange indicates an element index outside a dataset's shape.
type ErrOutOfRange struct {
	Index []int
	Shape []int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("store: index %v out of range for shape %v", e.Index, e.Shape)
}

// Store is a hierarchical container over a flat object namespace.
//
// All methods are safe for concurrent readers. Concurrent writers to the
// same container must be serialized by the caller.
type Store struct {
	objects blob.Store
}

// New creates a Store over the given object backend.
func New(objects blob.Store) *Store {
	return &Store{objects: objects}
}

// Group is a handle to an opened group.
type Group struct {
	Path string
}

// CreateGroup creates a group at the given path, including the root group.
func (s *Store) CreateGroup(ctx context.Context, path string) (*Group, error) {
	path = ConcatPaths(path)
	doc, _ := json.Marshal(map[string]int{"zarr_format": zarrFormat})
	key := childKey(objectKey(path), groupMetaName)
	if err := s.objects.Put(ctx, key, doc); err != nil {
		return nil, err
	}
	return &Group{Path: path}, nil
}

// OpenGroup opens an existing group.
func (s *Store) OpenGroup(ctx context.Context, path string) (*Group, error) {
	path = ConcatPaths(path)
	ok, err := s.objects.Exists(ctx, childKey(objectKey(path), groupMetaName))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, path)
	}
	return &Group{Path: path}, nil
}

// ObjectExists reports whether a group or dataset exists at the given path.
// It is a cheap metadata probe, never a data read.
func (s *Store) ObjectExists(ctx context.Context, path string) (bool, error) {
	key := objectKey(ConcatPaths(path))
	for _, marker := range []string{groupMetaName, arrayMetaName} {
		ok, err := s.objects.Exists(ctx, childKey(key, marker))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ListObjects returns the names of the groups and datasets directly below
// the given path, sorted.
func (s *Store) ListObjects(ctx context.Context, path string) ([]string, error) {
	key := objectKey(ConcatPaths(path))
	prefix := key
	if prefix != "" {
		prefix += "/"
	}
	keys, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	markers := make(map[string]bool, len(keys))
	for _, k := range keys {
		markers[k] = true
	}

	seen := make(map[string]bool)
	var names []string
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		name, _, ok := strings.Cut(rel, "/")
		if !ok || seen[name] {
			continue
		}
		child := prefix + name
		if markers[child+"/"+groupMetaName] || markers[child+"/"+arrayMetaName] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetAttr returns the attribute value stored under key on the object at path.
// Values are JSON-typed: bool, string, float64, []any or map[string]any.
// A missing attribute (or attribute document) returns ErrNotFound.
func (s *Store) GetAttr(ctx context.Context, path, key string) (any, error) {
	attrs, err := s.readAttrs(ctx, path)
	if err != nil {
		return nil, err
	}
	v, ok := attrs[key]
	if !ok {
		return nil, fmt.Errorf("%w: attribute %q on %s", ErrNotFound, key, path)
	}
	return v, nil
}

// SetAttr stores an attribute value under key on the object at path.
func (s *Store) SetAttr(ctx context.Context, path, key string, value any) error {
	attrs, err := s.readAttrs(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if attrs == nil {
		attrs = make(map[string]any)
	}
	attrs[key] = value
	doc, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return s.objects.Put(ctx, childKey(objectKey(ConcatPaths(path)), attrsName), doc)
}

func (s *Store) readAttrs(ctx context.Context, path string) (map[string]any, error) {
	data, err := s.objects.Get(ctx, childKey(objectKey(ConcatPaths(path)), attrsName))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: attributes on %s", ErrNotFound, path)
		}
		return nil, err
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("store: malformed attributes on %s: %w", path, err)
	}
	return attrs, nil
}
