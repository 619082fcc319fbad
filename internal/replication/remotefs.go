// Package replication implements the remote-log replication worker (C7):
// it tails the KV store's committed sequence, uploads incremental
// write-batch logs, periodically uploads full checkpoints, and
// garbage-collects stale snapshots.
//
// The remote object store itself is out of scope per spec.md §1 ("the
// remote filesystem abstraction — specified only by the interface it
// must satisfy"): RemoteFS is that interface, with local-disk, S3, Azure
// Blob, and GCS implementations provided as the concrete backends a
// deployment may choose, none of which internal/domain ever imports
// directly.
package replication

import "context"

// RemoteFS is the minimal object-store contract the replicator needs:
// list keys under a prefix, read an object fully, write an object, and
// delete an object. Objects are addressed by a flat string key
// (forward-slash-separated, like an S3 key or Azure blob name).
type RemoteFS interface {
	// List returns every object key with the given prefix, sorted
	// lexicographically.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get returns the full contents of key, or an error satisfying
	// IsNotExist if it does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data to key, creating or overwriting it.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NotExistError is returned by Get for a missing key.
type NotExistError struct{ Key string }

func (e *NotExistError) Error() string { return "replication: object not found: " + e.Key }

// IsNotExist reports whether err indicates a missing remote object.
func IsNotExist(err error) bool {
	_, ok := err.(*NotExistError)
	return ok
}
