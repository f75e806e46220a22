package cubby

import (
	"crypto/sha1"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alex-shapiro/cubby/hlc"
	"github.com/alex-shapiro/cubby/wire"
)

// seededKV deterministically derives a (key, value) pair from an index so
// tests don't depend on math/rand's global state.
func seededKV(seed string, i int) ([]byte, []byte) {
	kh := sha1.Sum([]byte(fmt.Sprintf("%s-key-%d", seed, i)))
	vh := sha1.Sum([]byte(fmt.Sprintf("%s-value-%d", seed, i)))
	key := append([]byte(nil), kh[:]...)
	value := make([]byte, 0, 128)
	for len(value) < 128 {
		value = append(value, vh[:]...)
	}
	return key, value[:128]
}

func syncStateBothWays(t *testing.T, a, b *Replica) {
	t.Helper()
	reqA, err := a.RequestDiff()
	require.NoError(t, err)
	diffAB, err := b.BuildDiff(reqA)
	require.NoError(t, err)
	require.NoError(t, a.IntegrateDiff(diffAB))

	reqB, err := b.RequestDiff()
	require.NoError(t, err)
	diffBA, err := a.BuildDiff(reqB)
	require.NoError(t, err)
	require.NoError(t, b.IntegrateDiff(diffBA))
}

func entriesEqual(t *testing.T, a, b *Replica) {
	t.Helper()
	ea := a.Entries()
	eb := b.Entries()
	require.Len(t, eb, len(ea))
	for i := range ea {
		require.Equal(t, ea[i].Key, eb[i].Key)
		require.Equal(t, ea[i].Value, eb[i].Value)
	}
}

// TestSymmetricStateSync is scenario S1.
func TestSymmetricStateSync(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		k, v := seededKV("alice", i)
		_, err := a.Insert(k, v)
		require.NoError(t, err)
	}
	for i := 0; i < 1000; i++ {
		k, v := seededKV("bob", i)
		_, err := b.Insert(k, v)
		require.NoError(t, err)
	}

	syncStateBothWays(t, a, b)

	require.Len(t, a.Entries(), 2000)
	require.Len(t, b.Entries(), 2000)
	entriesEqual(t, a, b)
}

// TestOpSyncIdentity is scenario S2.
func TestOpSyncIdentity(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		k, v := seededKV("alice", i)
		op, err := a.Insert(k, v)
		require.NoError(t, err)
		require.NoError(t, b.IntegrateOp(op))
	}

	require.Len(t, a.Entries(), 1000)
	entriesEqual(t, a, b)
}

// TestOverwriteResolution is scenario S3.
func TestOverwriteResolution(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	// Pin the wall clock so A writes at t=10ms and B at t=20ms.
	defer func(orig func() time.Time) { hlc.Now = orig }(hlc.Now)
	hlc.Now = func() time.Time { return hlc.Epoch.Add(10 * time.Millisecond) }

	opA, err := a.Insert([]byte("foo"), []byte("alpha"))
	require.NoError(t, err)
	require.NoError(t, b.IntegrateOp(opA))

	hlc.Now = func() time.Time { return hlc.Epoch.Add(20 * time.Millisecond) }
	opB, err := b.Insert([]byte("foo"), []byte("beta"))
	require.NoError(t, err)
	require.NoError(t, a.IntegrateOp(opB))

	va, ok := a.ei.Get([]byte("foo"))
	require.True(t, ok)
	require.Equal(t, []byte("beta"), va)

	vb, ok := b.ei.Get([]byte("foo"))
	require.True(t, ok)
	require.Equal(t, []byte("beta"), vb)

	entryA, _ := a.ei.GetEntry([]byte("foo"))
	entryB, _ := b.ei.GetEntry([]byte("foo"))
	bHandleAtA, _ := a.pr.Handle(b.LocalID())
	bHandleAtB := b.pr.Local()
	require.Equal(t, bHandleAtA, entryA.Author)
	require.Equal(t, bHandleAtB, entryB.Author)
}

// TestDisplacedVersionCleanup is scenario S4.
func TestDisplacedVersionCleanup(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	opOld, err := a.Insert([]byte("k"), []byte("old"))
	require.NoError(t, err)
	require.NoError(t, b.IntegrateOp(opOld))

	_, err = a.Insert([]byte("k"), []byte("new"))
	require.NoError(t, err)

	syncStateBothWays(t, a, b)

	v, ok := b.ei.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("new"), v)

	aHandleAtB, _ := b.pr.Handle(a.LocalID())
	_, stillThere := b.ei.LookupByVersion(aHandleAtB, opOld.HLC)
	require.False(t, stillThere)
}

// TestTransactionalBatching is scenario S5.
func TestTransactionalBatching(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	txn, err := a.Begin()
	require.NoError(t, err)
	const n = 10000
	for i := 0; i < n; i++ {
		k, v := seededKV("batch", i)
		txn.Stage(k, v)
	}
	ops, err := txn.CommitWithOps()
	require.NoError(t, err)
	require.Len(t, ops, n)

	require.NoError(t, b.IntegrateOps(ops))

	require.Len(t, a.Entries(), n)
	entriesEqual(t, a, b)

	cs := a.pr.ClockSet(a.pr.Local())
	require.Equal(t, uint64(n), cs.Cardinality())
}

// TestOutOfOrderOpDelivery is scenario S6.
func TestOutOfOrderOpDelivery(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	op1, err := a.Insert([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	op2, err := a.Insert([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	op3, err := a.Insert([]byte("k3"), []byte("v3"))
	require.NoError(t, err)

	require.NoError(t, b.IntegrateOp(op3))
	require.NoError(t, b.IntegrateOp(op1))
	require.NoError(t, b.IntegrateOp(op2))

	entriesEqual(t, a, b)
}

func TestIntegrateOpIsIdempotent(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	op, err := a.Insert([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, b.IntegrateOp(op))
	require.NoError(t, b.IntegrateOp(op))
	require.NoError(t, b.IntegrateOp(op))

	require.Len(t, b.Entries(), 1)
	entriesEqual(t, a, b)
}

func TestBuildDiffIgnoresPeersUnknownToResponder(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	_, err = a.Insert([]byte("k"), []byte("v"))
	require.NoError(t, err)

	req := wire.DiffRequest{Peers: []wire.PeerCS{{PeerID: []byte("never-seen-by-b"), CSBytes: mustEmptyCS(t)}}}
	resp, err := b.BuildDiff(req)
	require.NoError(t, err)
	require.Empty(t, resp.Inserts)
	require.Empty(t, resp.Deletes)
}

func mustEmptyCS(t *testing.T) []byte {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	req, err := r.RequestDiff()
	require.NoError(t, err)
	require.Len(t, req.Peers, 1)
	return req.Peers[0].CSBytes
}
