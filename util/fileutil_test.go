package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	assert.False(t, PathExists(dir))

	require.NoError(t, EnsureDir(dir))
	assert.True(t, PathExists(dir))

	// second call is a no-op
	require.NoError(t, EnsureDir(dir))
}

func TestEnsureParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "quokka.db")
	require.NoError(t, EnsureParentDir(path))
	assert.True(t, PathExists(filepath.Dir(path)))
	assert.False(t, PathExists(path))
}

func TestHashCodeStable(t *testing.T) {
	a := HashCode([]byte("page body"))
	b := HashCode([]byte("page body"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashCode([]byte("page bodz")))
}
