package channel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
)

func TestDirectoryRegisterPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")

	d, err := OpenDirectory(path)
	require.NoError(t, err)

	addr := node.Address{Domain: node.NewDomainIndex(1), Shard: 2}
	require.NoError(t, d.Register(addr, "ws://host-a:7000/domain"))

	endpoint, ok := d.Lookup(addr)
	require.True(t, ok)
	require.Equal(t, "ws://host-a:7000/domain", endpoint)

	reloaded, err := OpenDirectory(path)
	require.NoError(t, err)
	endpoint, ok = reloaded.Lookup(addr)
	require.True(t, ok)
	require.Equal(t, "ws://host-a:7000/domain", endpoint)
}

func TestDirectoryUnregisterRemovesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	d, err := OpenDirectory(path)
	require.NoError(t, err)

	addr := node.Address{Domain: node.NewDomainIndex(3), Shard: 0}
	require.NoError(t, d.Register(addr, "ws://host-b:7000/domain"))
	require.NoError(t, d.Unregister(addr))

	_, ok := d.Lookup(addr)
	require.False(t, ok)
}

func TestOpenDirectoryMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	d, err := OpenDirectory(path)
	require.NoError(t, err)
	require.Empty(t, d.endpoints)
}

func TestResolverDialsRegisteredEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	d, err := OpenDirectory(path)
	require.NoError(t, err)

	addr := node.Address{Domain: node.NewDomainIndex(5), Shard: 1}
	require.NoError(t, d.Register(addr, "ws://127.0.0.1:1/never-connects"))

	resolver := d.Resolver(DefaultRemoteConfig(""))
	transport, err := resolver(addr)
	require.NoError(t, err)
	require.NotNil(t, transport)
	require.NoError(t, transport.Close())

	_, err = resolver(node.Address{Domain: node.NewDomainIndex(99), Shard: 0})
	require.Error(t, err)
}
