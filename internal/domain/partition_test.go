package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/domain"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
)

func createOrdersTable(t *testing.T, m *domain.Metastore) (domain.Table, domain.Index) {
	t.Helper()
	s := createTestSchema(t, m)
	table := domain.Table{Name: "orders", SchemaID: s.ID, Columns: []domain.Column{{Name: "id", Type: domain.ColumnInt}}}
	built, created, err := m.CreateTableWithIndices(context.Background(), table, nil)
	require.NoError(t, err)
	return built, created[0]
}

func TestCreateChildPartitionInheritsParentFields(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	root := parts[0]

	child, err := m.CreateChildPartition(ctx, root.ID, []byte("a"), []byte("m"))
	require.NoError(t, err)
	assert.Equal(t, root.IndexID, child.IndexID)
	require.NotNil(t, child.ParentPartitionID)
	assert.Equal(t, root.ID, *child.ParentPartitionID)
	assert.True(t, child.MinValue.Present)
	assert.Equal(t, []byte("a"), child.MinValue.Value)
}

func TestSwapActivePartitionsReparentsChunksAndTogglesActive(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]
	require.NoError(t, m.SwapActivePartitions(ctx, nil, []kv.RowID{root.ID}, false))

	chunk, err := m.CreateChunk(ctx, root.ID, 100, false)
	require.NoError(t, err)

	newPart, err := m.CreateChildPartition(ctx, root.ID, nil, nil)
	require.NoError(t, err)
	_, err = m.UpdatePartitionStats(ctx, newPart.ID, 100, false, nil)
	require.NoError(t, err)

	require.NoError(t, m.SwapActivePartitions(ctx, []kv.RowID{root.ID}, []kv.RowID{newPart.ID}, false))

	oldPart, err := m.GetPartition(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, oldPart.Active)

	activated, err := m.GetPartition(ctx, newPart.ID)
	require.NoError(t, err)
	assert.True(t, activated.Active)

	moved, err := m.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, newPart.ID, moved.PartitionID, "chunk reparents onto the first new partition")
}

func TestSwapActivePartitionsRejectsRowCountMismatchUnlessAllowed(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]
	require.NoError(t, m.SwapActivePartitions(ctx, nil, []kv.RowID{root.ID}, false))
	_, err = m.UpdatePartitionStats(ctx, root.ID, 50, false, nil)
	require.NoError(t, err)

	newPart, err := m.CreateChildPartition(ctx, root.ID, nil, nil)
	require.NoError(t, err)
	_, err = m.UpdatePartitionStats(ctx, newPart.ID, 10, false, nil)
	require.NoError(t, err)

	err = m.SwapActivePartitions(ctx, []kv.RowID{root.ID}, []kv.RowID{newPart.ID}, false)
	require.Error(t, err)
	assert.Equal(t, metaerr.Internal, metaerr.KindOf(err))

	require.NoError(t, m.SwapActivePartitions(ctx, []kv.RowID{root.ID}, []kv.RowID{newPart.ID}, true))
}

// TestSwapActivePartitionsDeactivatesChunksOnGenuineSplit exercises a
// partition splitting into two disjoint ranges ([None,5) and [5,None)):
// every source chunk must come out inactive rather than being dumped
// onto one child, since neither child alone owns the full row range.
func TestSwapActivePartitionsDeactivatesChunksOnGenuineSplit(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]
	require.NoError(t, m.SwapActivePartitions(ctx, nil, []kv.RowID{root.ID}, false))

	chunk, err := m.CreateChunk(ctx, root.ID, 100, false)
	require.NoError(t, err)
	_, err = m.ChunkUploaded(ctx, chunk.ID, 1024)
	require.NoError(t, err)
	require.NoError(t, m.ActivateChunks(ctx, []kv.RowID{chunk.ID}))

	low, err := m.CreateChildPartition(ctx, root.ID, nil, []byte{5})
	require.NoError(t, err)
	_, err = m.UpdatePartitionStats(ctx, low.ID, 40, false, nil)
	require.NoError(t, err)
	high, err := m.CreateChildPartition(ctx, root.ID, []byte{5}, nil)
	require.NoError(t, err)
	_, err = m.UpdatePartitionStats(ctx, high.ID, 60, false, nil)
	require.NoError(t, err)

	require.NoError(t, m.SwapActivePartitions(ctx, []kv.RowID{root.ID}, []kv.RowID{low.ID, high.ID}, false))

	oldRoot, err := m.GetPartition(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, oldRoot.Active)

	lowActivated, err := m.GetPartition(ctx, low.ID)
	require.NoError(t, err)
	assert.True(t, lowActivated.Active)
	highActivated, err := m.GetPartition(ctx, high.ID)
	require.NoError(t, err)
	assert.True(t, highActivated.Active)

	untouched, err := m.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Active, "a split must deactivate source chunks rather than misfile them onto one child")
	assert.Equal(t, root.ID, untouched.PartitionID, "a split does not reparent chunks onto either child")
}

func TestSwapActivePartitionsRejectsInactiveOldPartition(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]
	newPart, err := m.CreateChildPartition(ctx, root.ID, nil, nil)
	require.NoError(t, err)

	err = m.SwapActivePartitions(ctx, []kv.RowID{newPart.ID}, []kv.RowID{root.ID}, true)
	require.Error(t, err, "newPart is not active, so it cannot be swapped out")
	assert.Equal(t, metaerr.User, metaerr.KindOf(err))
}

func TestDeleteMiddleManPartitionReparentsChildren(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]

	middle, err := m.CreateChildPartition(ctx, root.ID, nil, nil)
	require.NoError(t, err)
	grandchild, err := m.CreateChildPartition(ctx, middle.ID, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteMiddleManPartition(ctx, middle.ID))

	_, err = m.GetPartition(ctx, middle.ID)
	require.Error(t, err)

	updated, err := m.GetPartition(ctx, grandchild.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.ParentPartitionID)
	assert.Equal(t, root.ID, *updated.ParentPartitionID)
}

func TestDeleteMiddleManPartitionRejectsActivePartition(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]
	require.NoError(t, m.SwapActivePartitions(ctx, nil, []kv.RowID{root.ID}, false))

	err = m.DeleteMiddleManPartition(ctx, root.ID)
	require.Error(t, err)
	assert.Equal(t, metaerr.User, metaerr.KindOf(err))
}

func TestAllInactivePartitions(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	_, idx := createOrdersTable(t, m)

	parts, err := m.PartitionsForIndex(idx.ID)
	require.NoError(t, err)
	root := parts[0]
	require.NoError(t, m.SwapActivePartitions(ctx, nil, []kv.RowID{root.ID}, false))

	child, err := m.CreateChildPartition(ctx, root.ID, nil, nil)
	require.NoError(t, err)

	inactive, err := m.AllInactivePartitions()
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, child.ID, inactive[0].ID)
}
