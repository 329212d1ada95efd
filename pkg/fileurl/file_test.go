package fileurl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a", "b", "log.json")

	require.NoError(t, CreatePath(file, 0o755))
	assert.True(t, IsDir(filepath.Dir(file)))
	assert.False(t, IsExist(file))

	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	assert.True(t, IsExist(file))
	assert.True(t, IsFile(file))
	assert.False(t, IsDir(file))

	nested := filepath.Join(dir, "mnt", "data")
	require.NoError(t, EnsureDir(nested, 0o755))
	assert.True(t, IsDir(nested))
	require.NoError(t, EnsureDir(nested, 0o755))
}
