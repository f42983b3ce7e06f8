package store

import "strings"

// ConcatPaths joins container paths into one canonical path.
// The result always has a single leading '/' and no trailing '/'.
func ConcatPaths(paths ...string) string {
	var b strings.Builder
	for _, p := range paths {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// BaseName returns the last element of a container path.
func BaseName(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// objectKey maps a container path onto a key prefix in the object store.
// The root path maps to the empty key.
func objectKey(path string) string {
	return strings.Trim(path, "/")
}

// childKey joins an object key with a member name.
func childKey(key, name string) string {
	if key == "" {
		return name
	}
	return key + "/" + name
}
