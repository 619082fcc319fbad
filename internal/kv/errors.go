package kv

import "errors"

// ErrNotFound is returned by Get/Snapshot.Get for missing keys on reads
// that require presence.
var ErrNotFound = errors.New("kv: not found")

// ErrCorruptLog is returned when iterating or deserializing a batch log
// file yields invalid data. Recovery stops at the last good batch rather
// than propagating a hard failure.
var ErrCorruptLog = errors.New("kv: corrupt log")
