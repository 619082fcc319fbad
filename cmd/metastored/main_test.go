package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-js/cube-metastore/internal/config"
	"github.com/cube-js/cube-metastore/internal/replication"
)

func TestBuildRemoteFSNoneReturnsNilWithoutError(t *testing.T) {
	for _, kind := range []string{"", "none"} {
		cfg := &config.Config{RemoteKind: kind}
		remote, err := buildRemoteFS(context.Background(), cfg)
		require.NoError(t, err)
		assert.Nil(t, remote)
	}
}

func TestBuildRemoteFSLocalReturnsLocalFS(t *testing.T) {
	cfg := &config.Config{RemoteKind: "local", RemoteURI: t.TempDir()}
	remote, err := buildRemoteFS(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := remote.(*replication.LocalFS)
	assert.True(t, ok)
}

func TestBuildRemoteFSAzblobIsNotYetWired(t *testing.T) {
	cfg := &config.Config{RemoteKind: "azblob"}
	_, err := buildRemoteFS(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildRemoteFSRejectsUnknownKind(t *testing.T) {
	cfg := &config.Config{RemoteKind: "dropbox"}
	_, err := buildRemoteFS(context.Background(), cfg)
	require.Error(t, err)
}
