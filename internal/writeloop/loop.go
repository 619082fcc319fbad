// Package writeloop implements the single-threaded executor that
// serializes all metastore writes (C6). A dedicated goroutine owns a
// bounded FIFO of closures; other goroutines submit work and await
// completion on a oneshot channel. Read-out-of-queue bulk scans run
// directly on the caller's goroutine against a fresh snapshot, bypassing
// the queue entirely.
package writeloop

import (
	"context"
	"fmt"
	"log"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
)

// QueueCapacity is the bounded FIFO capacity for submitted closures.
const QueueCapacity = 32768

// WriteResult is returned by a WriteFn on success.
type WriteResult struct {
	Value interface{}
	// Events are dispatched on the bus only after the batch commits —
	// listeners must never observe events for state that did not
	// persist.
	Events []eventbus.Event
	// InvalidateTablesCache clears the process-wide cached table-path
	// list atomically with this write's commit-visible effects.
	InvalidateTablesCache bool
}

// WriteFn runs under the exclusive writer: it reads current state from
// snap and stages mutations into batch. On error the batch is discarded
// and no state changes.
type WriteFn func(snap kv.Snapshot, batch kv.Batch) (WriteResult, error)

// ReadFn runs under the writer's own snapshot, ordered with writes but
// performing no mutation.
type ReadFn func(snap kv.Snapshot) (interface{}, error)

type jobKind int

const (
	kindWrite jobKind = iota
	kindRead
)

type job struct {
	kind    jobKind
	write   WriteFn
	read    ReadFn
	replyCh chan jobResult
	ctx     context.Context
}

type jobResult struct {
	value interface{}
	err   error
}

// InvalidateFunc is called (under the loop, after commit) when a write
// opts into cache invalidation.
type InvalidateFunc func()

// Loop is the single-writer executor.
type Loop struct {
	store      kv.Store
	bus        *eventbus.Bus
	invalidate InvalidateFunc

	jobs chan job
	stop chan struct{}
	done chan struct{}
}

// New constructs a Loop. Call Run in its own goroutine to start
// processing; Submit* may be called before Run as long as the queue
// capacity is not exceeded.
func New(store kv.Store, bus *eventbus.Bus, invalidate InvalidateFunc) *Loop {
	return &Loop{
		store:      store,
		bus:        bus,
		invalidate: invalidate,
		jobs:       make(chan job, QueueCapacity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes jobs until Stop is called or ctx is canceled. It should
// be started in its own goroutine; it is the sole goroutine permitted to
// touch l.store's write path.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case j := <-l.jobs:
			l.process(ctx, j)
		}
	}
}

// Stop signals Run to exit after any in-flight job completes, and waits
// for it to do so.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loop) process(ctx context.Context, j job) {
	switch j.kind {
	case kindRead:
		snap := l.store.NewSnapshot()
		v, err := j.read(snap)
		snap.Release()
		l.reply(j, v, err)
	case kindWrite:
		snap := l.store.NewSnapshot()
		batch := l.store.NewBatch()
		res, err := j.write(snap, batch)
		snap.Release()
		if err != nil {
			l.reply(j, nil, err)
			return
		}
		if batch.Len() == 0 {
			// Nothing staged: treat as a successful no-op commit
			// without touching the sequence counter or dispatching
			// events, matching operations like swap_compacted_chunks
			// that can legitimately decide "not committed".
			l.reply(j, res.Value, nil)
			return
		}
		seq, err := l.store.Commit(ctx, batch)
		if err != nil {
			l.reply(j, nil, fmt.Errorf("writeloop: commit: %w", err))
			return
		}
		if res.InvalidateTablesCache && l.invalidate != nil {
			l.invalidate()
		}
		for _, ev := range res.Events {
			ev.Seq = seq
			l.bus.Dispatch(ev)
		}
		l.reply(j, res.Value, nil)
	}
}

// reply delivers the result, ignoring the case where the submitter has
// already abandoned the call (dropped receiver) — the work still ran and
// committed, by design, so idempotent closures are safe to retry.
func (l *Loop) reply(j job, v interface{}, err error) {
	select {
	case j.replyCh <- jobResult{value: v, err: err}:
	default:
		log.Printf("writeloop: submitter abandoned result (job still committed)")
	}
}

// SubmitWrite enqueues fn and blocks until it completes or ctx is
// canceled. Writes complete in submission order; each write sees the
// effects of every previously completed write.
func (l *Loop) SubmitWrite(ctx context.Context, fn WriteFn) (interface{}, error) {
	j := job{kind: kindWrite, write: fn, replyCh: make(chan jobResult, 1), ctx: ctx}
	return l.submit(ctx, j)
}

// SubmitRead enqueues fn, serialized with writes (it observes the state
// of every write completed before it was submitted).
func (l *Loop) SubmitRead(ctx context.Context, fn ReadFn) (interface{}, error) {
	j := job{kind: kindRead, read: fn, replyCh: make(chan jobResult, 1), ctx: ctx}
	return l.submit(ctx, j)
}

func (l *Loop) submit(ctx context.Context, j job) (interface{}, error) {
	select {
	case l.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.replyCh:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadOutOfQueue runs fn on the caller's own goroutine against a fresh
// snapshot, without going through the queue. It is not linearized
// against writes: it may observe an older snapshot than a write
// submitted just before the call returns. Intended for read-only bulk
// scans that must not stall writers.
func (l *Loop) ReadOutOfQueue(fn ReadFn) (interface{}, error) {
	snap := l.store.NewSnapshot()
	defer snap.Release()
	return fn(snap)
}
