package bootstrap_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/bootstrap"
	"github.com/cube-js/cube-metastore/internal/domain"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/replication"
)

func TestRunWithNoLocalDataAndNoRemoteStartsFresh(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	store, res, err := bootstrap.Run(context.Background(), bootstrap.Options{
		DataDir:    dataDir,
		DBFileName: "metastore.db",
	}, domain.NewRebuildableTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.False(t, res.RestoredFromRemote)
	assert.Equal(t, uint64(1), store.LastSeq(), "the only committed batch is the startup index-version stamp")
	assert.True(t, res.RebuiltIndexes, "index version metadata is absent on a brand new store")
}

func TestRunWithEmptyRemoteStartsFresh(t *testing.T) {
	remote := replication.NewLocalFS(t.TempDir())
	dataDir := filepath.Join(t.TempDir(), "data")
	store, res, err := bootstrap.Run(context.Background(), bootstrap.Options{
		DataDir:          dataDir,
		DBFileName:       "metastore.db",
		CheckpointPrefix: "metastore",
		Remote:           remote,
	}, domain.NewRebuildableTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.False(t, res.RestoredFromRemote, "no checkpoint has ever been published")
	assert.Equal(t, uint64(1), store.LastSeq(), "the only committed batch is the startup index-version stamp")
}

func TestRunSkipsRemoteWhenLocalDataAlreadyExists(t *testing.T) {
	dataDir := t.TempDir()
	existing, err := kv.Open(filepath.Join(dataDir, "metastore.db"))
	require.NoError(t, err)
	b := existing.NewBatch()
	b.Put([]byte("k"), []byte("v"))
	_, err = existing.Commit(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, existing.Close())

	store, res, err := bootstrap.Run(context.Background(), bootstrap.Options{
		DataDir:          dataDir,
		DBFileName:       "metastore.db",
		CheckpointPrefix: "metastore",
		Remote:           replication.NewLocalFS(t.TempDir()), // empty; must never be consulted
	}, domain.NewRebuildableTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.False(t, res.RestoredFromRemote)
	assert.Equal(t, uint64(2), store.LastSeq(), "the existing batch plus the startup index-version stamp")

	snap := store.NewSnapshot()
	defer snap.Release()
	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestRunRebuildsIndexesOnFirstOpenButNotSecond(t *testing.T) {
	dataDir := t.TempDir()

	store1, res1, err := bootstrap.Run(context.Background(), bootstrap.Options{
		DataDir:    dataDir,
		DBFileName: "metastore.db",
	}, domain.NewRebuildableTables())
	require.NoError(t, err)
	assert.True(t, res1.RebuiltIndexes)
	require.NoError(t, store1.Close())

	store2, res2, err := bootstrap.Run(context.Background(), bootstrap.Options{
		DataDir:    dataDir,
		DBFileName: "metastore.db",
	}, domain.NewRebuildableTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })
	assert.False(t, res2.RebuiltIndexes, "the second open finds matching, already-stamped index versions")
}

// TestRunRestoresFromRemoteAndReplaysLogs drives a real Replicator against
// a source store to produce a checkpoint plus a trailing log file, then
// verifies bootstrap.Run reconstructs an equivalent store in a separate,
// empty data directory from nothing but the remote objects.
func TestRunRestoresFromRemoteAndReplaysLogs(t *testing.T) {
	ctx := context.Background()
	source, err := kv.Open(filepath.Join(t.TempDir(), "metastore.db"))
	require.NoError(t, err)

	b1 := source.NewBatch()
	b1.Put([]byte("a"), []byte("1"))
	_, err = source.Commit(ctx, b1)
	require.NoError(t, err)

	remote := replication.NewLocalFS(t.TempDir())
	r := replication.New(source, remote, replication.Config{
		CheckpointPrefix:    "metastore",
		SnapshotInterval:    time.Hour,
		TickInterval:        5 * time.Millisecond,
		CheckpointRetention: time.Hour,
		LocalCheckpointDir:  t.TempDir(),
		Enabled:             true,
	})
	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)

	require.Eventually(t, func() bool {
		_, err := remote.Get(ctx, "metastore-current")
		return err == nil
	}, time.Second, 5*time.Millisecond, "checkpoint must publish before the second write")

	b2 := source.NewBatch()
	b2.Put([]byte("b"), []byte("2"))
	_, err = source.Commit(ctx, b2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.LastUploadSeq() >= source.LastSeq()
	}, time.Second, 5*time.Millisecond, "the post-checkpoint batch must reach the remote log")

	cancel()
	r.Stop()
	require.NoError(t, source.Close())

	freshDir := t.TempDir()
	store, res, err := bootstrap.Run(ctx, bootstrap.Options{
		DataDir:          freshDir,
		DBFileName:       "metastore.db",
		CheckpointPrefix: "metastore",
		Remote:           remote,
	}, domain.NewRebuildableTables())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.True(t, res.RestoredFromRemote)
	assert.NotEmpty(t, res.CheckpointDir)
	assert.Equal(t, 1, res.ReplayedBatches, "only the batch committed after the checkpoint needed replay")
	assert.False(t, res.CorruptLogSkipped)
	assert.Equal(t, uint64(3), store.LastSeq(), "the checkpointed batch, the replayed batch and the startup index-version stamp")

	snap := store.NewSnapshot()
	defer snap.Release()
	va, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(va), "the checkpoint carries the pre-checkpoint write")
	vb, err := snap.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(vb), "the replayed log carries the post-checkpoint write")
}
