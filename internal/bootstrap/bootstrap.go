// Package bootstrap implements process startup (C8): open an existing
// local data directory in place, or, if empty, locate the newest remote
// checkpoint, download it, replay logs committed after it, and finally
// check every declared entity table's secondary indices for staleness.
package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/replication"
	"github.com/cube-js/cube-metastore/internal/rtable"
)

var tracer = otel.Tracer("github.com/cube-js/cube-metastore/internal/bootstrap")

// Options configures Run.
type Options struct {
	DataDir          string
	DBFileName       string
	CheckpointPrefix string
	Remote           replication.RemoteFS // nil disables remote restore; with no local DB, Run then starts a fresh, empty store
}

// Result reports what Run did, useful for startup logging.
type Result struct {
	RestoredFromRemote bool
	CheckpointDir      string
	ReplayedBatches    int
	CorruptLogSkipped  bool
	RebuiltIndexes     bool
}

// Run brings a kv.Store up to a ready-to-serve state and checks secondary
// indices on every table in tables. The returned Store must be closed by
// the caller.
func Run(ctx context.Context, opts Options, tables []rtable.Rebuildable) (kv.Store, Result, error) {
	ctx, span := tracer.Start(ctx, "bootstrap.Run")
	defer span.End()

	var res Result
	dbPath := filepath.Join(opts.DataDir, opts.DBFileName)

	localPresent, err := fileExists(dbPath)
	if err != nil {
		return nil, res, metaerr.Wrap(metaerr.Internal, err, "bootstrap: stat local db")
	}

	if !localPresent {
		if opts.Remote == nil {
			span.SetAttributes(attribute.Bool("bootstrap.fresh", true))
		} else {
			restored, cpDir, replayed, corrupt, err := restoreFromRemote(ctx, opts)
			if err != nil {
				return nil, res, err
			}
			res.RestoredFromRemote = restored
			res.CheckpointDir = cpDir
			res.ReplayedBatches = replayed
			res.CorruptLogSkipped = corrupt
		}
	}

	store, err := kv.Open(dbPath)
	if err != nil {
		return nil, res, metaerr.Wrap(metaerr.Internal, err, "bootstrap: open store")
	}

	rebuilt, err := checkIndexes(store, tables)
	if err != nil {
		_ = store.Close()
		return nil, res, err
	}
	res.RebuiltIndexes = rebuilt

	span.SetAttributes(
		attribute.Bool("bootstrap.restored_from_remote", res.RestoredFromRemote),
		attribute.Int("bootstrap.replayed_batches", res.ReplayedBatches),
		attribute.Bool("bootstrap.rebuilt_indexes", res.RebuiltIndexes),
	)
	return store, res, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// restoreFromRemote implements the "no local data" path of §4.7: find
// metastore-current, download every object under that checkpoint prefix
// into the local data dir, then replay <prefix>-logs/ files in ascending
// min_seq order against the restored store, stopping at the first corrupt
// container without aborting startup.
func restoreFromRemote(ctx context.Context, opts Options) (restored bool, checkpointDir string, replayed int, corruptSkipped bool, err error) {
	ctx, span := tracer.Start(ctx, "bootstrap.restoreFromRemote")
	defer span.End()

	pointerKey := opts.CheckpointPrefix + "-current"
	pointer, err := opts.Remote.Get(ctx, pointerKey)
	if replication.IsNotExist(err) {
		// Nothing has ever been checkpointed remotely; start empty.
		if err := os.MkdirAll(opts.DataDir, 0o750); err != nil {
			return false, "", 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: create data dir")
		}
		return false, "", 0, false, nil
	}
	if err != nil {
		return false, "", 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: read current pointer")
	}
	checkpointDir = strings.TrimSpace(string(pointer))
	span.SetAttributes(attribute.String("bootstrap.checkpoint_dir", checkpointDir))

	if err := os.MkdirAll(opts.DataDir, 0o750); err != nil {
		return false, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: create data dir")
	}

	files, err := opts.Remote.List(ctx, checkpointDir+"/")
	if err != nil {
		return false, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: list checkpoint files")
	}
	for _, key := range files {
		data, err := opts.Remote.Get(ctx, key)
		if err != nil {
			return false, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: download checkpoint file %s", key)
		}
		rel := strings.TrimPrefix(key, checkpointDir+"/")
		dest := filepath.Join(opts.DataDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return false, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: create dir for %s", rel)
		}
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			return false, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: write checkpoint file %s", rel)
		}
	}

	store, err := kv.Open(filepath.Join(opts.DataDir, opts.DBFileName))
	if err != nil {
		return true, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: open restored checkpoint")
	}
	defer store.Close()

	logsPrefix := checkpointDir + "-logs/"
	logKeys, err := opts.Remote.List(ctx, logsPrefix)
	if err != nil {
		return true, checkpointDir, 0, false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: list log files")
	}
	sort.Slice(logKeys, func(i, j int) bool {
		return logMinSeq(logsPrefix, logKeys[i]) < logMinSeq(logsPrefix, logKeys[j])
	})

	for _, key := range logKeys {
		data, err := opts.Remote.Get(ctx, key)
		if err != nil {
			return true, checkpointDir, replayed, corruptSkipped, metaerr.Wrap(metaerr.Internal, err, "bootstrap: download log %s", key)
		}
		batches, decodeErr := kv.DecodeContainer(data)
		for _, b := range batches {
			if b.Seq <= store.LastSeq() {
				continue // already reflected in the checkpoint
			}
			if err := store.ApplyCommittedBatch(ctx, b); err != nil {
				return true, checkpointDir, replayed, corruptSkipped, metaerr.Wrap(metaerr.Internal, err, "bootstrap: replay batch from %s", key)
			}
			replayed++
		}
		if decodeErr != nil {
			// Partial batches from this file are already applied above;
			// stop replay here per the "first corrupt batch" contract.
			corruptSkipped = true
			break
		}
	}

	return true, checkpointDir, replayed, corruptSkipped, nil
}

func logMinSeq(prefix, key string) uint64 {
	name := strings.TrimPrefix(key, prefix)
	name = strings.TrimSuffix(name, ".flex")
	n, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// checkIndexes runs rtable.Table[T].CheckAndRebuildIndexes for every
// table and commits a single batch if any rebuild was staged.
func checkIndexes(store kv.Store, tables []rtable.Rebuildable) (bool, error) {
	snap := store.NewSnapshot()
	defer snap.Release()
	batch := store.NewBatch()

	anyRebuilt := false
	for _, t := range tables {
		rebuilt, err := t.CheckAndRebuildIndexes(snap, batch)
		if err != nil {
			return false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: rebuild indexes")
		}
		anyRebuilt = anyRebuilt || rebuilt
	}
	if !anyRebuilt || batch.Len() == 0 {
		return false, nil
	}
	if _, err := store.Commit(context.Background(), batch); err != nil {
		return false, metaerr.Wrap(metaerr.Internal, err, "bootstrap: commit index rebuild")
	}
	return true, nil
}
