package kv

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.etcd.io/bbolt"
)

// Bucket names within the single bbolt file. All primary/sequence/index
// keys live flatly in dataBucket since their own encoding already
// disambiguates kind, table and index — bbolt buckets are used only to
// separate live data from the replication log and metadata, not to
// re-namespace entity kinds.
var (
	dataBucket = []byte("data")
	logBucket  = []byte("log")
	metaBucket = []byte("meta")

	lastSeqMetaKey = []byte("last_seq")
)

// BoltStore implements Store on top of go.etcd.io/bbolt, an embedded
// ordered single-writer B+tree — the same role BoltDB/bbolt plays in
// other embedded-KV services in this ecosystem (see cuemby-warren's
// BoltStore), just with the metastore's own key and log encoding layered
// on top instead of JSON-per-bucket CRUD.
type BoltStore struct {
	db   *bbolt.DB
	path string

	mu      sync.Mutex // serializes Commit; bbolt already single-writers, this guards seq bookkeeping
	lastSeq uint64
}

// Open opens (creating if absent) a BoltStore at path.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("kv: create data dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open bbolt: %w", err)
	}
	s := &BoltStore{db: db, path: path}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{dataBucket, logBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: init buckets: %w", err)
	}
	if err := s.loadLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) loadLastSeq() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(lastSeqMetaKey)
		if v == nil {
			s.lastSeq = 0
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("kv: corrupt last_seq meta value")
		}
		s.lastSeq = binary.BigEndian.Uint64(v)
		return nil
	})
}

type boltBatch struct {
	ops []Op
}

func (b *boltBatch) Put(key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if v == nil {
		v = []byte{}
	}
	b.ops = append(b.ops, Op{Key: k, Value: v})
}

func (b *boltBatch) Delete(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, Op{Key: k, Value: nil})
}

func (b *boltBatch) Ops() []Op { return b.ops }
func (b *boltBatch) Len() int  { return len(b.ops) }

func (s *BoltStore) NewBatch() Batch { return &boltBatch{} }

func (s *BoltStore) Commit(_ context.Context, batch Batch) (uint64, error) {
	ops := batch.Ops()
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.lastSeq + 1
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucket)
		for _, op := range ops {
			if op.IsDelete() {
				if err := data.Delete(op.Key); err != nil {
					return err
				}
			} else {
				if err := data.Put(op.Key, op.Value); err != nil {
					return err
				}
			}
		}
		logKey := make([]byte, 8)
		binary.BigEndian.PutUint64(logKey, seq)
		if err := tx.Bucket(logBucket).Put(logKey, EncodeOps(ops)); err != nil {
			return err
		}
		seqBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBuf, seq)
		return tx.Bucket(metaBucket).Put(lastSeqMetaKey, seqBuf)
	})
	if err != nil {
		return 0, fmt.Errorf("kv: commit batch: %w", err)
	}
	s.lastSeq = seq
	return seq, nil
}

// ApplyCommittedBatch replays one previously-committed batch at its
// original sequence number during bootstrap log replay. Unlike Commit it
// does not mint a new sequence number; b.Seq must immediately follow the
// store's current LastSeq.
func (s *BoltStore) ApplyCommittedBatch(_ context.Context, b CommittedBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Seq != s.lastSeq+1 {
		return fmt.Errorf("kv: replay out of order: expected seq %d, got %d", s.lastSeq+1, b.Seq)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucket)
		for _, op := range b.Ops {
			if op.IsDelete() {
				if err := data.Delete(op.Key); err != nil {
					return err
				}
			} else if err := data.Put(op.Key, op.Value); err != nil {
				return err
			}
		}
		logKey := make([]byte, 8)
		binary.BigEndian.PutUint64(logKey, b.Seq)
		if err := tx.Bucket(logBucket).Put(logKey, EncodeOps(b.Ops)); err != nil {
			return err
		}
		seqBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBuf, b.Seq)
		return tx.Bucket(metaBucket).Put(lastSeqMetaKey, seqBuf)
	})
	if err != nil {
		return fmt.Errorf("kv: replay batch %d: %w", b.Seq, err)
	}
	s.lastSeq = b.Seq
	return nil
}

func (s *BoltStore) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

func (s *BoltStore) BatchesSince(_ context.Context, since uint64) ([]CommittedBatch, error) {
	var out []CommittedBatch
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		start := make([]byte, 8)
		binary.BigEndian.PutUint64(start, since+1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			seq := binary.BigEndian.Uint64(k)
			ops, err := DecodeOps(v)
			if err != nil {
				return fmt.Errorf("kv: decode log entry at seq %d: %w", seq, err)
			}
			out = append(out, CommittedBatch{Seq: seq, Ops: ops})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Checkpoint(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("kv: create checkpoint dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(s.path))
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(dest, 0o600)
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }

// boltSnapshot wraps a read-only bbolt transaction. bbolt's MVCC model
// means a read transaction observes a consistent point-in-time view even
// while writers continue to commit, which is exactly the Snapshot
// contract the rest of the metastore depends on.
type boltSnapshot struct {
	tx  *bbolt.Tx
	seq uint64
}

func (s *BoltStore) NewSnapshot() Snapshot {
	s.mu.Lock()
	seq := s.lastSeq
	s.mu.Unlock()
	tx, err := s.db.Begin(false)
	if err != nil {
		// bbolt read transactions only fail if the db is closed or a
		// prior writer panicked mid-commit; surface this as an empty,
		// already-released snapshot whose Get returns that error and
		// whose iterator is empty, instead of a nil-pointer panic.
		return &errSnapshot{err: err}
	}
	return &boltSnapshot{tx: tx, seq: seq}
}

type errSnapshot struct{ err error }

func (e *errSnapshot) Get([]byte) ([]byte, error)            { return nil, e.err }
func (e *errSnapshot) Iterate([]byte, IterOptions) Iterator   { return &emptyIterator{} }
func (e *errSnapshot) Seq() uint64                            { return 0 }
func (e *errSnapshot) Release()                               {}

type emptyIterator struct{}

func (*emptyIterator) Valid() bool    { return false }
func (*emptyIterator) Next()          {}
func (*emptyIterator) Key() []byte    { return nil }
func (*emptyIterator) Value() []byte  { return nil }
func (*emptyIterator) Close()         {}

func (s *boltSnapshot) Get(key []byte) ([]byte, error) {
	v := s.tx.Bucket(dataBucket).Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *boltSnapshot) Seq() uint64 { return s.seq }

func (s *boltSnapshot) Release() { _ = s.tx.Rollback() }

type boltIterator struct {
	cursor            *bbolt.Cursor
	prefix            []byte
	prefixSameAsStart bool
	key, value        []byte
	valid             bool
}

func (s *boltSnapshot) Iterate(start []byte, opts IterOptions) Iterator {
	c := s.tx.Bucket(dataBucket).Cursor()
	it := &boltIterator{cursor: c, prefix: opts.Prefix, prefixSameAsStart: opts.PrefixSameAsStart}
	var k, v []byte
	if len(start) == 0 {
		k, v = c.First()
	} else {
		k, v = c.Seek(start)
	}
	it.set(k, v)
	return it
}

func (it *boltIterator) set(k, v []byte) {
	if k == nil {
		it.valid = false
		return
	}
	if it.prefixSameAsStart && len(it.prefix) > 0 {
		if len(k) < len(it.prefix) || string(k[:len(it.prefix)]) != string(it.prefix) {
			it.valid = false
			return
		}
	}
	it.key = append([]byte(nil), k...)
	it.value = append([]byte(nil), v...)
	it.valid = true
}

func (it *boltIterator) Valid() bool   { return it.valid }
func (it *boltIterator) Key() []byte   { return it.key }
func (it *boltIterator) Value() []byte { return it.value }
func (it *boltIterator) Close()        {}

func (it *boltIterator) Next() {
	if !it.valid {
		return
	}
	k, v := it.cursor.Next()
	it.set(k, v)
}
