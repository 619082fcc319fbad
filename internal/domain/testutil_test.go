package domain_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/domain"
	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
)

// newTestMetastore opens a fresh store under a temp directory, wires a
// Metastore over it, and starts its write loop for the duration of the
// test.
func newTestMetastore(t *testing.T) *domain.Metastore {
	t.Helper()
	store, err := kv.Open(filepath.Join(t.TempDir(), "metastore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.New()
	m := domain.New(store, bus)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	return m
}
