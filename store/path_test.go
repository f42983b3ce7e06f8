package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcatPaths(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"empty", nil, "/"},
		{"root only", []string{"/"}, "/"},
		{"simple join", []string{"Brillouin_data", "Data_0"}, "/Brillouin_data/Data_0"},
		{"redundant slashes", []string{"/Brillouin_data/", "/Data_0/"}, "/Brillouin_data/Data_0"},
		{"skips empty parts", []string{"a", "", "b"}, "/a/b"},
		{"nested part", []string{"a", "b/c"}, "/a/b/c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ConcatPaths(tt.parts...))
		})
	}
}

func TestBaseName(t *testing.T) {
	require.Equal(t, "Data_0", BaseName("/Brillouin_data/Data_0"))
	require.Equal(t, "Data_0", BaseName("/Brillouin_data/Data_0/"))
	require.Equal(t, "Data_0", BaseName("Data_0"))
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "", objectKey("/"))
	require.Equal(t, "a/b", objectKey("/a/b"))
	require.Equal(t, "a", childKey("", "a"))
	require.Equal(t, "a/b", childKey("a", "b"))
}
