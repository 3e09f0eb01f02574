package fs_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	fsstorage "github.com/tendant/simple-blob/pkg/simpleblob/storage/fs"
)

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := fsstorage.New(fsstorage.Config{})
	assert.Error(t, err)
}

func TestFSBackend(t *testing.T) {
	baseDir := t.TempDir()
	backend, err := fsstorage.New(fsstorage.Config{BaseDir: baseDir})
	require.NoError(t, err)

	ctx := context.Background()
	testKey := "blobs/df/fd6021bb2bd5b0af676290809ec3a5"
	testData := "Hello, World!"

	t.Run("Put", func(t *testing.T) {
		err := backend.Put(ctx, testKey, strings.NewReader(testData))
		require.NoError(t, err)

		// The object lands at the sharded path under the base directory.
		_, statErr := os.Stat(filepath.Join(baseDir, filepath.FromSlash(testKey)))
		assert.NoError(t, statErr)
	})

	t.Run("Get", func(t *testing.T) {
		reader, err := backend.Get(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		assert.NoError(t, err)
		assert.Equal(t, testData, string(data))
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		_, err := backend.Get(ctx, "blobs/no/such-key")
		assert.ErrorIs(t, err, simpleblob.ErrObjectNotFound)
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := backend.Exists(ctx, testKey)
		assert.NoError(t, err)
		assert.True(t, exists)

		exists, err = backend.Exists(ctx, "blobs/no/such-key")
		assert.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("NoTempFilesLeftBehind", func(t *testing.T) {
		dir := filepath.Dir(filepath.Join(baseDir, filepath.FromSlash(testKey)))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.False(t, strings.HasPrefix(entry.Name(), ".put-"), "leftover temp file %s", entry.Name())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		err := backend.Delete(ctx, testKey)
		require.NoError(t, err)

		exists, err := backend.Exists(ctx, testKey)
		assert.NoError(t, err)
		assert.False(t, exists)

		// Empty shard directories are pruned.
		_, statErr := os.Stat(filepath.Join(baseDir, "blobs", "df"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("DeleteNonExistent", func(t *testing.T) {
		err := backend.Delete(ctx, testKey)
		assert.ErrorIs(t, err, simpleblob.ErrObjectNotFound)
	})
}
