package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alex-shapiro/cubby/peer"
)

func TestMetadataRoundTrip(t *testing.T) {
	b := New()
	_, found, err := b.ReadMetadata()
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, b.WriteMetadata(peer.LocalPeerHandle(1)))
	h, found, err := b.ReadMetadata()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, peer.LocalPeerHandle(1), h)
}

func TestEntryUpsertLookupDelete(t *testing.T) {
	b := New()
	require.NoError(t, b.UpsertEntry([]byte("k"), []byte("v"), peer.LocalPeerHandle(1), 10))
	key, found, err := b.LookupByVersion(peer.LocalPeerHandle(1), 10)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("k"), key)

	require.NoError(t, b.UpsertEntry([]byte("k"), []byte("v2"), peer.LocalPeerHandle(1), 20))
	_, found, err = b.LookupByVersion(peer.LocalPeerHandle(1), 10)
	require.NoError(t, err)
	require.False(t, found, "old version should be gone after overwrite")

	require.NoError(t, b.DeleteEntry([]byte("k")))
	_, found, err = b.LookupByVersion(peer.LocalPeerHandle(1), 20)
	require.NoError(t, err)
	require.False(t, found)
}

func TestIterateEntries(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		require.NoError(t, b.UpsertEntry([]byte{byte(i)}, []byte("v"), peer.LocalPeerHandle(1), uint64(i+1)))
	}
	count := 0
	require.NoError(t, b.IterateEntries(func(key, value []byte, author peer.LocalPeerHandle, hlc uint64) error {
		count++
		return nil
	}))
	require.Equal(t, 100, count)
}

func TestCSRoundTrip(t *testing.T) {
	b := New()
	_, found, err := b.LoadCS(peer.LocalPeerHandle(1))
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, b.StoreCS(peer.LocalPeerHandle(1), []byte{1, 2, 3}))
	data, found, err := b.LoadCS(peer.LocalPeerHandle(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestIteratePeers(t *testing.T) {
	b := New()
	require.NoError(t, b.UpsertPeer(peer.LocalPeerHandle(1), peer.ID("alice"), 5))
	require.NoError(t, b.UpsertPeer(peer.LocalPeerHandle(2), peer.ID("bob"), 7))
	seen := map[string]int64{}
	require.NoError(t, b.IteratePeers(func(h peer.LocalPeerHandle, id peer.ID, bookmark int64) error {
		seen[string(id)] = bookmark
		return nil
	}))
	require.Equal(t, int64(5), seen["alice"])
	require.Equal(t, int64(7), seen["bob"])
}
