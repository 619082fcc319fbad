package replication

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cube-js/cube-metastore/internal/kv"
)

var tracer = otel.Tracer("github.com/cube-js/cube-metastore/internal/replication")

// CurrentPointerObject is the well-known remote object naming the newest
// complete checkpoint prefix.
func currentPointerObject(checkpointPrefix string) string {
	return checkpointPrefix + "-current"
}

func checkpointDirName(checkpointPrefix string, epochMs int64) string {
	return fmt.Sprintf("%s-%d", checkpointPrefix, epochMs)
}

func logsDirName(checkpointDir string) string { return checkpointDir + "-logs" }

// Replicator runs the two cooperating periodic tasks described in §4.6:
// incremental log upload and periodic full checkpoint, against a Store
// and a RemoteFS.
type Replicator struct {
	store  kv.Store
	remote RemoteFS

	checkpointPrefix    string
	snapshotInterval    time.Duration
	tickInterval        time.Duration
	checkpointRetention time.Duration

	// localCheckpointDir is a scratch directory for Store.Checkpoint
	// output before it is uploaded object-by-object.
	localCheckpointDir string

	mu                sync.Mutex
	lastUploadSeq     uint64
	lastCheckpointAt  time.Time
	lastCheckpointDir string // remote prefix name of the most recent checkpoint this process produced

	enabled atomic.Bool

	stop chan struct{}
	done chan struct{}
}

// Config configures a Replicator.
type Config struct {
	CheckpointPrefix    string
	SnapshotInterval    time.Duration
	TickInterval        time.Duration
	CheckpointRetention time.Duration
	LocalCheckpointDir  string
	Enabled             bool
}

func New(store kv.Store, remote RemoteFS, cfg Config) *Replicator {
	r := &Replicator{
		store:               store,
		remote:              remote,
		checkpointPrefix:    cfg.CheckpointPrefix,
		snapshotInterval:    cfg.SnapshotInterval,
		tickInterval:        cfg.TickInterval,
		checkpointRetention: cfg.CheckpointRetention,
		localCheckpointDir:  cfg.LocalCheckpointDir,
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	r.enabled.Store(cfg.Enabled)
	return r
}

// SetEnabled toggles replication uploads at runtime (used by tests
// exercising S5: disabling uploads makes wait_for_current_seq_to_sync
// fail).
func (r *Replicator) SetEnabled(v bool) { r.enabled.Store(v) }

func (r *Replicator) Enabled() bool { return r.enabled.Load() }

// LastUploadSeq returns the sequence number through which logs have been
// durably uploaded.
func (r *Replicator) LastUploadSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUploadSeq
}

// Run drives the periodic upload/checkpoint loop until ctx is canceled or
// Stop is called. Replication is best-effort: errors are logged via the
// span status and retried next tick.
func (r *Replicator) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.enabled.Load() {
				continue
			}
			r.tick(ctx)
		}
	}
}

func (r *Replicator) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Replicator) tick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "replication.tick")
	defer span.End()

	if err := r.uploadLogs(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "log upload failed")
	}

	r.mu.Lock()
	due := time.Since(r.lastCheckpointAt) >= r.snapshotInterval
	r.mu.Unlock()
	if due {
		if err := r.uploadCheckpoint(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "checkpoint failed")
		}
	}
}

func retryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

// uploadLogs implements the "Log upload" task of §4.6: fetch every batch
// since lastUploadSeq, serialize into one container file, upload, advance
// lastUploadSeq to the max seq covered.
func (r *Replicator) uploadLogs(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "replication.uploadLogs")
	defer span.End()

	r.mu.Lock()
	since := r.lastUploadSeq
	r.mu.Unlock()

	batches, err := r.store.BatchesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("replication: list batches since %d: %w", since, err)
	}
	if len(batches) == 0 {
		return nil
	}

	minSeq := batches[0].Seq
	maxSeq := batches[len(batches)-1].Seq
	data := kv.EncodeContainer(batches)

	r.mu.Lock()
	checkpointDir := r.lastCheckpointDir
	r.mu.Unlock()
	logsPrefix := logsDirName(r.checkpointPrefix)
	if checkpointDir != "" {
		logsPrefix = logsDirName(checkpointDir)
	}
	objectKey := fmt.Sprintf("%s/%d.flex", logsPrefix, minSeq)

	span.SetAttributes(attribute.Int64("replication.min_seq", int64(minSeq)), attribute.Int64("replication.max_seq", int64(maxSeq)))

	err = backoff.Retry(func() error {
		return r.remote.Put(ctx, objectKey, data)
	}, backoff.WithContext(retryBackoff(), ctx))
	if err != nil {
		return fmt.Errorf("replication: upload log %s: %w", objectKey, err)
	}

	r.mu.Lock()
	r.lastUploadSeq = maxSeq
	r.mu.Unlock()
	return nil
}

// uploadCheckpoint implements the "Checkpoint" task of §4.6: snapshot the
// store to a local directory, upload every file under a new
// metastore-<epoch_ms> prefix, atomically publish the pointer file, then
// garbage-collect prefixes older than the retention window.
func (r *Replicator) uploadCheckpoint(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "replication.uploadCheckpoint")
	defer span.End()

	epochMs := time.Now().UnixMilli()
	dirName := checkpointDirName(r.checkpointPrefix, epochMs)
	localDir := r.localCheckpointDir + "/" + dirName

	if err := r.store.Checkpoint(localDir); err != nil {
		return fmt.Errorf("replication: local checkpoint: %w", err)
	}

	files, err := listLocalDir(localDir)
	if err != nil {
		return fmt.Errorf("replication: list checkpoint dir: %w", err)
	}
	for _, f := range files {
		data, err := readLocalFile(localDir + "/" + f)
		if err != nil {
			return fmt.Errorf("replication: read checkpoint file %s: %w", f, err)
		}
		objectKey := dirName + "/" + f
		if err := backoff.Retry(func() error {
			return r.remote.Put(ctx, objectKey, data)
		}, backoff.WithContext(retryBackoff(), ctx)); err != nil {
			return fmt.Errorf("replication: upload checkpoint file %s: %w", objectKey, err)
		}
	}

	if err := r.remote.Put(ctx, currentPointerObject(r.checkpointPrefix), []byte(dirName)); err != nil {
		return fmt.Errorf("replication: publish pointer: %w", err)
	}

	r.mu.Lock()
	r.lastCheckpointAt = time.Now()
	r.lastCheckpointDir = dirName
	r.mu.Unlock()

	span.SetAttributes(attribute.String("replication.checkpoint_dir", dirName))

	return r.garbageCollect(ctx, dirName)
}

// garbageCollect deletes checkpoint/log prefixes older than
// checkpointRetention, excluding keep (the checkpoint just published).
func (r *Replicator) garbageCollect(ctx context.Context, keep string) error {
	keepEpoch, ok := parseEpochFromCheckpointDir(r.checkpointPrefix, keep)
	if !ok {
		return nil
	}
	all, err := r.remote.List(ctx, r.checkpointPrefix+"-")
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	cutoff := time.UnixMilli(keepEpoch).Add(-r.checkpointRetention)
	for _, key := range all {
		top := strings.SplitN(key, "/", 2)[0]
		if top == keep || seen[top] {
			continue
		}
		seen[top] = true
		epoch, ok := parseEpochFromCheckpointDir(r.checkpointPrefix, strings.TrimSuffix(top, "-logs"))
		if !ok {
			continue
		}
		if time.UnixMilli(epoch).Before(cutoff) {
			if err := r.remote.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseEpochFromCheckpointDir(prefix, dir string) (int64, bool) {
	p := prefix + "-"
	if !strings.HasPrefix(dir, p) {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimPrefix(dir, p), 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// WaitForCurrentSeqToSync blocks, polling every pollInterval (bounded by
// ctx), until lastUploadSeq reaches the store's latest
// committed sequence number. Returns an error if replication is disabled
// (nothing will ever advance lastUploadSeq) or ctx expires first.
func (r *Replicator) WaitForCurrentSeqToSync(ctx context.Context, pollInterval time.Duration) error {
	if !r.enabled.Load() {
		return fmt.Errorf("replication: disabled, cannot sync")
	}
	target := r.store.LastSeq()
	if r.LastUploadSeq() >= target {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.LastUploadSeq() >= target {
				return nil
			}
		}
	}
}

// listLocalDir lists the regular files (non-recursive) inside dir, the
// scratch directory Store.Checkpoint writes into before upload.
func listLocalDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func readLocalFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
