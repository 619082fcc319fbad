package domain_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/domain"
)

func TestDebugDumpWritesEveryTable(t *testing.T) {
	m := newTestMetastore(t)
	ctx := context.Background()
	s := createTestSchema(t, m)
	_, _, err := m.CreateTableWithIndices(ctx, domain.Table{Name: "orders", SchemaID: s.ID}, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, m.DebugDump(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Contains(t, out, "schemas")
	assert.Contains(t, out, "tables")
	assert.Contains(t, out, "indexes")
	assert.Contains(t, out, "partitions")

	schemas, ok := out["schemas"].([]interface{})
	require.True(t, ok)
	assert.Len(t, schemas, 1)
}
