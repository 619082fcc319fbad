package replication_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/replication"
)

func openTestStore(t *testing.T) *kv.BoltStore {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "metastore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestReplicator(t *testing.T, store kv.Store, cfg replication.Config) (*replication.Replicator, *replication.LocalFS) {
	t.Helper()
	remote := replication.NewLocalFS(t.TempDir())
	if cfg.LocalCheckpointDir == "" {
		cfg.LocalCheckpointDir = t.TempDir()
	}
	r := replication.New(store, remote, cfg)
	return r, remote
}

func TestReplicatorUploadsLogsAndAdvancesSeq(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	b1 := store.NewBatch()
	b1.Put([]byte("a"), []byte("1"))
	_, err := store.Commit(ctx, b1)
	require.NoError(t, err)
	b2 := store.NewBatch()
	b2.Put([]byte("b"), []byte("2"))
	_, err = store.Commit(ctx, b2)
	require.NoError(t, err)

	r, remote := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix:    "metastore",
		SnapshotInterval:    time.Hour,
		TickInterval:        5 * time.Millisecond,
		CheckpointRetention: time.Hour,
		Enabled:             true,
	})

	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)
	t.Cleanup(func() { cancel(); r.Stop() })

	require.NoError(t, r.WaitForCurrentSeqToSync(ctx, 5*time.Millisecond))
	assert.Equal(t, store.LastSeq(), r.LastUploadSeq())

	keys, err := remote.List(ctx, "metastore-logs/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "metastore-logs/1.flex", keys[0])

	data, err := remote.Get(ctx, keys[0])
	require.NoError(t, err)
	batches, err := kv.DecodeContainer(data)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, uint64(1), batches[0].Seq)
	assert.Equal(t, uint64(2), batches[1].Seq)
}

func TestReplicatorDoesNothingWhileDisabled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	b := store.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	_, err := store.Commit(ctx, b)
	require.NoError(t, err)

	r, remote := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix: "metastore",
		SnapshotInterval: time.Hour,
		TickInterval:     5 * time.Millisecond,
		Enabled:          false,
	})
	assert.False(t, r.Enabled())

	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)
	time.Sleep(40 * time.Millisecond)
	cancel()
	r.Stop()

	assert.Equal(t, uint64(0), r.LastUploadSeq())
	keys, err := remote.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReplicatorPublishesCheckpointPointer(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	b := store.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	_, err := store.Commit(ctx, b)
	require.NoError(t, err)

	r, remote := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix:    "metastore",
		SnapshotInterval:    time.Hour,
		TickInterval:        5 * time.Millisecond,
		CheckpointRetention: time.Hour,
		Enabled:             true,
	})

	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)
	t.Cleanup(func() { cancel(); r.Stop() })

	require.NoError(t, r.WaitForCurrentSeqToSync(ctx, 5*time.Millisecond))
	// The checkpoint task always runs on the replicator's first tick
	// (lastCheckpointAt starts at the zero time, so the due check is
	// always true), so the pointer should already be published.
	require.Eventually(t, func() bool {
		_, err := remote.Get(ctx, "metastore-current")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	dirName, err := remote.Get(ctx, "metastore-current")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(dirName), "metastore-"))

	checkpointFiles, err := remote.List(ctx, string(dirName)+"/")
	require.NoError(t, err)
	assert.Len(t, checkpointFiles, 1, "BoltStore.Checkpoint copies exactly one file")
}

func TestWaitForCurrentSeqToSyncFailsWhenDisabled(t *testing.T) {
	store := openTestStore(t)
	r, _ := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix: "metastore",
		TickInterval:     time.Hour,
		Enabled:          false,
	})

	err := r.WaitForCurrentSeqToSync(context.Background(), time.Millisecond)
	require.Error(t, err)
}

func TestWaitForCurrentSeqToSyncRespectsContextCancellation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	b := store.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	_, err := store.Commit(ctx, b)
	require.NoError(t, err)

	// TickInterval is large enough that no tick fires before the context
	// expires, so LastUploadSeq never advances past zero.
	r, _ := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix: "metastore",
		TickInterval:     time.Hour,
		Enabled:          true,
	})

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = r.WaitForCurrentSeqToSync(waitCtx, 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForCurrentSeqToSyncReturnsImmediatelyWhenAlreadyCaughtUp(t *testing.T) {
	store := openTestStore(t)
	r, _ := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix: "metastore",
		TickInterval:     time.Hour,
		Enabled:          true,
	})

	// An empty store has LastSeq()==0, which LastUploadSeq() (also 0)
	// already satisfies, so this must return without ever ticking.
	require.NoError(t, r.WaitForCurrentSeqToSync(context.Background(), time.Millisecond))
}

func TestReplicatorGarbageCollectsStaleCheckpoints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	b := store.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	_, err := store.Commit(ctx, b)
	require.NoError(t, err)

	r, remote := newTestReplicator(t, store, replication.Config{
		CheckpointPrefix:    "metastore",
		SnapshotInterval:    0, // every tick is due for a fresh checkpoint
		TickInterval:        15 * time.Millisecond,
		CheckpointRetention: 10 * time.Millisecond,
		Enabled:             true,
	})

	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)
	time.Sleep(250 * time.Millisecond)
	cancel()
	r.Stop()

	keys, err := remote.List(ctx, "metastore-")
	require.NoError(t, err)
	liveCheckpointDirs := map[string]bool{}
	for _, k := range keys {
		top := strings.SplitN(k, "/", 2)[0]
		if top == "metastore-current" || strings.HasSuffix(top, "-logs") {
			continue
		}
		liveCheckpointDirs[top] = true
	}
	assert.LessOrEqual(t, len(liveCheckpointDirs), 2, "old checkpoints must be garbage-collected, leaving at most the most recent one or two")
}
