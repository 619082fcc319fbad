package rtable_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/rtable"
	"github.com/cube-js/cube-metastore/internal/seq"
)

// widget is a minimal entity used only to exercise the generic Table[T]
// contract in isolation from any real domain type.
type widget struct {
	ID   kv.RowID
	Name string
	Tag  string
}

type widgetCodec struct{}

func (widgetCodec) Encode(v widget) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(1, uint64(v.ID))
	e.String(2, v.Name)
	e.String(3, v.Tag)
	return e.Finish()
}

func (widgetCodec) Decode(data []byte) (widget, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return widget{}, err
	}
	return widget{ID: kv.RowID(d.Uint64(1)), Name: d.String(2), Tag: d.String(3)}, nil
}

const testTableID kv.TableID = 1

func newWidgetsTable() *rtable.Table[widget] {
	return &rtable.Table[widget]{
		TableID: testTableID,
		Codec:   widgetCodec{},
		IDOf:    func(v widget) kv.RowID { return v.ID },
		WithID:  func(v widget, id kv.RowID) widget { v.ID = id; return v },
		Indexes: []rtable.IndexDef[widget]{
			{
				ID:      kv.NewIndexID(testTableID, 0),
				Version: 1,
				Unique:  true,
				KeyFn:   func(v widget) []byte { return []byte(v.Name) },
			},
			{
				ID:      kv.NewIndexID(testTableID, 1),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v widget) []byte { return []byte(v.Tag) },
			},
		},
	}
}

func newTestStore(t *testing.T) *kv.BoltStore {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "metastore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	id, err := tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "x"})
	require.NoError(t, err)
	snap.Release()
	_, err = store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	defer snap2.Release()
	got, err := tbl.Get(snap2, id)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, id, got.ID)
}

func TestInsertRejectsDuplicateUniqueKey(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	_, err := tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "x"})
	require.NoError(t, err)
	_, err = tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "y"})
	snap.Release()
	require.Error(t, err)
	assert.Equal(t, metaerr.User, metaerr.KindOf(err))
}

func TestGetOrNotFoundWrapsMiss(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	snap := store.NewSnapshot()
	defer snap.Release()
	_, err := tbl.GetOrNotFound(snap, 999)
	require.Error(t, err)
	assert.Equal(t, metaerr.Unknown, metaerr.KindOf(err))
}

func TestExists(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	id, err := tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "x"})
	require.NoError(t, err)
	snap.Release()
	_, err = store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	defer snap2.Release()
	assert.True(t, tbl.Exists(snap2, id))
	assert.False(t, tbl.Exists(snap2, id+1))
}

func TestUpdateReplacesIndexEntries(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	id, err := tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "x"})
	require.NoError(t, err)
	snap.Release()
	_, err = store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	batch2 := store.NewBatch()
	old, err := tbl.Update(snap2, batch2, id, widget{Name: "beta", Tag: "y"})
	require.NoError(t, err)
	snap2.Release()
	assert.Equal(t, "alpha", old.Name)
	_, err = store.Commit(context.Background(), batch2)
	require.NoError(t, err)

	snap3 := store.NewSnapshot()
	defer snap3.Release()

	got, err := tbl.Get(snap3, id)
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Name)

	rows, err := tbl.GetRowsByIndex(snap3, tbl.Indexes[0], []byte("alpha"))
	require.NoError(t, err)
	assert.Empty(t, rows, "old unique index entry must be gone after update")

	rows, err = tbl.GetRowsByIndex(snap3, tbl.Indexes[0], []byte("beta"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
}

func TestDeleteRemovesRowAndIndexEntries(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	id, err := tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "x"})
	require.NoError(t, err)
	snap.Release()
	_, err = store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	batch2 := store.NewBatch()
	_, err = tbl.Delete(snap2, batch2, id)
	require.NoError(t, err)
	snap2.Release()
	_, err = store.Commit(context.Background(), batch2)
	require.NoError(t, err)

	snap3 := store.NewSnapshot()
	defer snap3.Release()
	assert.False(t, tbl.Exists(snap3, id))
	rows, err := tbl.GetRowsByIndex(snap3, tbl.Indexes[0], []byte("alpha"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestScanAllOrdersByRowID(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		_, err := tbl.Insert(snap, batch, alloc, widget{Name: n, Tag: "t"})
		require.NoError(t, err)
	}
	snap.Release()
	_, err := store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	defer snap2.Release()
	rows, err := tbl.ScanAll(snap2)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Row ids are allocated in insertion order, and primary-key iteration
	// is key-ordered, so rows come back in insertion order too.
	assert.Equal(t, []string{"c", "a", "b"}, []string{rows[0].Name, rows[1].Name, rows[2].Name})
}

func TestGetRowsByIndexNonUniqueReturnsAllMatches(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	_, err := tbl.Insert(snap, batch, alloc, widget{Name: "a", Tag: "shared"})
	require.NoError(t, err)
	_, err = tbl.Insert(snap, batch, alloc, widget{Name: "b", Tag: "shared"})
	require.NoError(t, err)
	_, err = tbl.Insert(snap, batch, alloc, widget{Name: "c", Tag: "other"})
	require.NoError(t, err)
	snap.Release()
	_, err = store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	defer snap2.Release()
	rows, err := tbl.GetRowsByIndex(snap2, tbl.Indexes[1], []byte("shared"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestScanByIndexReturnsEveryRow(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	for _, n := range []string{"a", "b", "c"} {
		_, err := tbl.Insert(snap, batch, alloc, widget{Name: n, Tag: "t"})
		require.NoError(t, err)
	}
	snap.Release()
	_, err := store.Commit(context.Background(), batch)
	require.NoError(t, err)

	snap2 := store.NewSnapshot()
	defer snap2.Release()
	rows, err := tbl.ScanByIndex(snap2, tbl.Indexes[1])
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCheckAndRebuildIndexesRebuildsOnVersionBump(t *testing.T) {
	store := newTestStore(t)
	tbl := newWidgetsTable()
	alloc := seq.New()

	snap := store.NewSnapshot()
	batch := store.NewBatch()
	id, err := tbl.Insert(snap, batch, alloc, widget{Name: "alpha", Tag: "x"})
	require.NoError(t, err)
	snap.Release()
	_, err = store.Commit(context.Background(), batch)
	require.NoError(t, err)

	// First rebuild pass: no stored version yet, so it always rebuilds.
	snap2 := store.NewSnapshot()
	batch2 := store.NewBatch()
	rebuilt, err := tbl.CheckAndRebuildIndexes(snap2, batch2)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	snap2.Release()
	_, err = store.Commit(context.Background(), batch2)
	require.NoError(t, err)

	// A second pass at the same declared version is a no-op.
	snap3 := store.NewSnapshot()
	batch3 := store.NewBatch()
	rebuilt, err = tbl.CheckAndRebuildIndexes(snap3, batch3)
	require.NoError(t, err)
	assert.False(t, rebuilt)
	snap3.Release()
	assert.Equal(t, 0, batch3.Len())

	snap4 := store.NewSnapshot()
	defer snap4.Release()
	rows, err := tbl.GetRowsByIndex(snap4, tbl.Indexes[0], []byte("alpha"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
}
