package replication_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/replication"
)

func TestLocalFSPutGetRoundTrips(t *testing.T) {
	fs := replication.NewLocalFS(t.TempDir())
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "metastore-1/schemas.json", []byte("hello")))

	data, err := fs.Get(ctx, "metastore-1/schemas.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalFSGetMissingKeyIsNotExist(t *testing.T) {
	fs := replication.NewLocalFS(t.TempDir())
	_, err := fs.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, replication.IsNotExist(err))
}

func TestLocalFSListFiltersByPrefix(t *testing.T) {
	fs := replication.NewLocalFS(t.TempDir())
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, "metastore-1/a", []byte("1")))
	require.NoError(t, fs.Put(ctx, "metastore-1/b", []byte("2")))
	require.NoError(t, fs.Put(ctx, "metastore-2/a", []byte("3")))

	keys, err := fs.List(ctx, "metastore-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"metastore-1/a", "metastore-1/b"}, keys)
}

func TestLocalFSDeleteIsIdempotent(t *testing.T) {
	fs := replication.NewLocalFS(t.TempDir())
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, "key", []byte("v")))
	require.NoError(t, fs.Delete(ctx, "key"))
	require.NoError(t, fs.Delete(ctx, "key"), "deleting an already-missing key is not an error")

	_, err := fs.Get(ctx, "key")
	assert.True(t, replication.IsNotExist(err))
}

func TestLocalFSPutOverwritesExistingKey(t *testing.T) {
	dir := t.TempDir()
	fs := replication.NewLocalFS(dir)
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, "a/b", []byte("old")))
	require.NoError(t, fs.Put(ctx, "a/b", []byte("new")))

	data, err := fs.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := filepath.Glob(filepath.Join(dir, "a", "*"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the .tmp staging file must not survive a Put")
}
