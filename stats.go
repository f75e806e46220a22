package cubby

import (
	"fmt"

	brimtext "gopkg.in/gholt/brimtext.v1"

	"github.com/alex-shapiro/cubby/peer"
)

// Stats is a point-in-time snapshot of a Replica's size and peer-set
// shape, formatted the way the teacher's ValuesStoreStats/valueLocMapStats
// render themselves: an aligned two-column table via brimtext.Align.
type Stats struct {
	EntryCount  int
	PeerCount   int
	LocalPeerID string
	LocalHandle peer.LocalPeerHandle
	MaxHLC      uint64
	TxnOpen     bool
}

func (s *Stats) String() string {
	rows := [][]string{
		{"entryCount", fmt.Sprintf("%d", s.EntryCount)},
		{"peerCount", fmt.Sprintf("%d", s.PeerCount)},
		{"localPeerID", s.LocalPeerID},
		{"localHandle", fmt.Sprintf("%d", s.LocalHandle)},
		{"maxHLC", fmt.Sprintf("%d", s.MaxHLC)},
		{"txnOpen", fmt.Sprintf("%t", s.TxnOpen)},
	}
	return brimtext.Align(rows, nil)
}

// Stats gathers a snapshot of this replica's current size and identity.
func (r *Replica) Stats() *Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Stats{
		EntryCount:  r.ei.Len(),
		PeerCount:   len(r.pr.Handles()),
		LocalPeerID: r.localID.String(),
		LocalHandle: r.pr.Local(),
		MaxHLC:      r.pr.ClockSet(r.pr.Local()).Max(),
		TxnOpen:     r.txn != nil,
	}
}
