package kv

import "context"

// KV is a single key/value pair, used both for write-batch staging and
// for log-replay entries.
type KV struct {
	Key   []byte
	Value []byte
}

// Op is one staged mutation within a Batch: a Put (Value non-nil) or a
// Delete (Value nil).
type Op struct {
	Key   []byte
	Value []byte // nil means delete
}

func (o Op) IsDelete() bool { return o.Value == nil }

// Batch accumulates mutations for one atomic write. Batches are not safe
// for concurrent use; the write loop (C6) guarantees single-threaded
// staging.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	// Ops returns the staged mutations in insertion order.
	Ops() []Op
	// Len reports the number of staged mutations.
	Len() int
}

// Iterator walks key-ordered entries starting at a seek key. Iteration
// stops naturally once Valid() returns false; callers that want
// prefix-bounded scans pass PrefixSameAsStart so the store stops once the
// configured prefix no longer matches the current key.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close()
}

// IterOptions configures a forward iteration.
type IterOptions struct {
	// Prefix, if non-empty and PrefixSameAsStart is true, bounds
	// iteration to keys sharing this prefix.
	Prefix            []byte
	PrefixSameAsStart bool
}

// Snapshot is a point-in-time, read-only view of the store. All reads
// inside one write or read closure observe the same Snapshot.
type Snapshot interface {
	Get(key []byte) ([]byte, error) // ErrNotFound if absent
	Iterate(start []byte, opts IterOptions) Iterator
	// Seq is the sequence number of the last batch reflected in this
	// snapshot.
	Seq() uint64
	Release()
}

// Store is the embedded ordered KV store contract (C3). Implementations
// must provide point get on a snapshot, forward prefix iteration, atomic
// multi-key write-batch commit with a strictly increasing sequence
// number, retrieval of batches since a given sequence number, checkpoint
// export, and opening via restore-from-backup.
type Store interface {
	// NewSnapshot opens a consistent point-in-time view of the store.
	NewSnapshot() Snapshot

	// NewBatch creates an empty batch for staging mutations.
	NewBatch() Batch

	// Commit atomically applies batch and returns the sequence number
	// assigned to it. Sequence numbers are strictly increasing across
	// the store's lifetime.
	Commit(ctx context.Context, batch Batch) (seq uint64, err error)

	// BatchesSince returns every committed batch with sequence number
	// greater than since, ordered by sequence number ascending.
	BatchesSince(ctx context.Context, since uint64) ([]CommittedBatch, error)

	// LastSeq returns the sequence number of the most recently committed
	// batch (0 if the store is empty).
	LastSeq() uint64

	// Checkpoint copies the store's on-disk state files into dir,
	// producing a directory that can later be used to restore a fresh
	// store via OpenFromBackup-style bootstrap.
	Checkpoint(dir string) error

	// ApplyCommittedBatch replays a batch recovered from a remote log
	// file at its original sequence number, used only during bootstrap
	// replay. It fails if b.Seq is not exactly LastSeq()+1.
	ApplyCommittedBatch(ctx context.Context, b CommittedBatch) error

	// Close releases the store's underlying resources.
	Close() error
}

// CommittedBatch pairs a sequence number with the ops committed under it,
// as needed for incremental log upload (C7).
type CommittedBatch struct {
	Seq uint64
	Ops []Op
}
