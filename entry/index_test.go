package entry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alex-shapiro/cubby/peer"
)

func TestPutAcceptsFirstWrite(t *testing.T) {
	ix := New()
	accepted, _, had := ix.Put([]byte("k"), []byte("v1"), peer.LocalPeerHandle(1), 10)
	require.True(t, accepted)
	require.False(t, had)
	v, ok := ix.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestPutOverwritesWithHigherHLC(t *testing.T) {
	ix := New()
	ix.Put([]byte("k"), []byte("v1"), peer.LocalPeerHandle(1), 10)
	accepted, displaced, had := ix.Put([]byte("k"), []byte("v2"), peer.LocalPeerHandle(1), 20)
	require.True(t, accepted)
	require.True(t, had)
	require.Equal(t, Displaced{Author: peer.LocalPeerHandle(1), HLC: 10}, displaced)
	v, _ := ix.Get([]byte("k"))
	require.Equal(t, []byte("v2"), v)
	_, ok := ix.LookupByVersion(peer.LocalPeerHandle(1), 10)
	require.False(t, ok)
	key, ok := ix.LookupByVersion(peer.LocalPeerHandle(1), 20)
	require.True(t, ok)
	require.Equal(t, []byte("k"), key)
}

func TestPutRejectsLowerOrEqualVersion(t *testing.T) {
	ix := New()
	ix.Put([]byte("k"), []byte("v1"), peer.LocalPeerHandle(5), 20)
	accepted, _, _ := ix.Put([]byte("k"), []byte("older"), peer.LocalPeerHandle(5), 10)
	require.False(t, accepted)
	accepted, _, _ = ix.Put([]byte("k"), []byte("same"), peer.LocalPeerHandle(5), 20)
	require.False(t, accepted)
	v, _ := ix.Get([]byte("k"))
	require.Equal(t, []byte("v1"), v)
}

func TestPutTieBreaksByAuthorHandle(t *testing.T) {
	ix := New()
	ix.Put([]byte("k"), []byte("from-1"), peer.LocalPeerHandle(1), 10)
	// Same HLC, higher author handle should win.
	accepted, _, _ := ix.Put([]byte("k"), []byte("from-2"), peer.LocalPeerHandle(2), 10)
	require.True(t, accepted)
	v, _ := ix.Get([]byte("k"))
	require.Equal(t, []byte("from-2"), v)
	// And a lower handle at the same HLC now loses.
	accepted, _, _ = ix.Put([]byte("k"), []byte("from-0"), peer.LocalPeerHandle(0), 10)
	require.False(t, accepted)
}

func TestDeleteOnlyWhenVersionMatches(t *testing.T) {
	ix := New()
	ix.Put([]byte("k"), []byte("v1"), peer.LocalPeerHandle(1), 10)
	require.False(t, ix.Delete([]byte("k"), peer.LocalPeerHandle(1), 5))
	require.True(t, ix.Delete([]byte("k"), peer.LocalPeerHandle(1), 10))
	_, ok := ix.Get([]byte("k"))
	require.False(t, ok)
}

func TestEntriesSortedByKey(t *testing.T) {
	ix := New()
	ix.Put([]byte("zed"), []byte("1"), peer.LocalPeerHandle(1), 1)
	ix.Put([]byte("alpha"), []byte("2"), peer.LocalPeerHandle(1), 2)
	ix.Put([]byte("mid"), []byte("3"), peer.LocalPeerHandle(1), 3)
	entries := ix.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "alpha", string(entries[0].Key))
	require.Equal(t, "mid", string(entries[1].Key))
	require.Equal(t, "zed", string(entries[2].Key))
}
