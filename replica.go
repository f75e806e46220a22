package cubby

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/alex-shapiro/cubby/clockset"
	"github.com/alex-shapiro/cubby/entry"
	"github.com/alex-shapiro/cubby/hlc"
	"github.com/alex-shapiro/cubby/peer"
)

func errInconsistentBackend(format string, args ...interface{}) error {
	return errors.Wrap(ErrBackendFailure, "inconsistent state: "+fmt.Sprintf(format, args...))
}

// Replica is a single replicated-store instance: one Entry Index, one
// Peer Registry, one HLC Allocator, and at most one open Txn, all
// exclusively owned by whichever goroutine holds mu (spec.md §5:
// "one replica instance executes one operation at a time from its
// owner"). The lock here is a safety net, not a concurrency model: the
// engine performs no internal suspension and does no background work.
type Replica struct {
	cfg *Config

	mu      sync.Mutex
	pr      *peer.Registry
	ha      *hlc.Allocator
	ei      *entry.Index
	localID peer.ID
	txn     *Txn
}

// New creates or reopens a Replica. If cfg.Backend has persisted
// metadata from a previous run, the replica's identity, peers, clock
// sets, and entries are rebuilt from it; otherwise a fresh replica is
// created, minting a PeerId (cfg.LocalID if set, else a new one).
func New(opts ...Option) (*Replica, error) {
	cfg := resolveConfig(opts...)
	r := &Replica{cfg: cfg, ei: entry.New()}

	if cfg.Backend == nil {
		localID := cfg.LocalID
		if len(localID) == 0 {
			localID = peer.NewID()
		}
		r.localID = localID
		r.pr = peer.New(localID)
		r.ha = hlc.New(0)
		return r, nil
	}

	handle, found, err := cfg.Backend.ReadMetadata()
	if err != nil {
		return nil, wrapBackendErr(err)
	}
	if !found {
		localID := cfg.LocalID
		if len(localID) == 0 {
			localID = peer.NewID()
		}
		r.localID = localID
		r.pr = peer.New(localID)
		r.ha = hlc.New(0)
		if err := cfg.Backend.WriteMetadata(r.pr.Local()); err != nil {
			return nil, wrapBackendErr(err)
		}
		if err := cfg.Backend.UpsertPeer(r.pr.Local(), localID, 0); err != nil {
			return nil, wrapBackendErr(err)
		}
		return r, nil
	}

	// Rehydrate from persisted state. The peer table tells us every
	// handle<->id mapping and bookmark; we replay them into a fresh
	// Registry via a temporary seed so handle numbering (and therefore
	// r.pr.Local()) matches what was persisted.
	type persistedPeer struct {
		id       peer.ID
		bookmark int64
	}
	byHandle := make(map[peer.LocalPeerHandle]persistedPeer)
	var maxHandle peer.LocalPeerHandle
	if err := cfg.Backend.IteratePeers(func(h peer.LocalPeerHandle, id peer.ID, bookmark int64) error {
		byHandle[h] = persistedPeer{id: append(peer.ID(nil), id...), bookmark: bookmark}
		if h > maxHandle {
			maxHandle = h
		}
		return nil
	}); err != nil {
		return nil, wrapBackendErr(err)
	}
	localRow, ok := byHandle[handle]
	if !ok {
		return nil, errInconsistentBackend("metadata handle %d has no peer row", handle)
	}
	r.localID = localRow.id
	r.pr = peer.New(r.localID)
	if r.pr.Local() != handle {
		return nil, errInconsistentBackend("rehydrated local handle %d does not match persisted metadata handle %d", r.pr.Local(), handle)
	}
	// Re-intern every other persisted peer in ascending handle order so
	// handle numbering matches the original assignment order.
	order := make([]peer.LocalPeerHandle, 0, len(byHandle))
	for h := range byHandle {
		order = append(order, h)
	}
	sortHandles(order)
	for _, h := range order {
		if h == handle {
			continue
		}
		row := byHandle[h]
		got := r.pr.Intern(row.id)
		if got != h {
			return nil, errInconsistentBackend("peer %s re-interned to handle %d, want %d", row.id, got, h)
		}
		r.pr.SetBookmark(got, row.bookmark)
	}

	for h := range byHandle {
		data, found, err := cfg.Backend.LoadCS(h)
		if err != nil {
			return nil, wrapBackendErr(err)
		}
		if !found {
			continue
		}
		cs, err := clockset.Deserialize(data)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedState, err.Error())
		}
		cs.IterAscending(func(v uint64) bool {
			r.pr.Touch(h, v)
			return true
		})
	}

	if err := cfg.Backend.IterateEntries(func(key, value []byte, author peer.LocalPeerHandle, h uint64) error {
		r.ei.Put(key, value, author, h)
		return nil
	}); err != nil {
		return nil, wrapBackendErr(err)
	}

	r.ha = hlc.New(r.pr.ClockSet(r.pr.Local()).Max())
	cfg.Logger.Infof("cubby: rehydrated replica: peers=%d entries=%d last_hlc=%d", len(byHandle), r.ei.Len(), r.ha.LastIssued())
	return r, nil
}

// LocalID returns this replica's own PeerId.
func (r *Replica) LocalID() peer.ID {
	return r.localID
}

// Entries returns every live (key, value) pair, sorted by key.
func (r *Replica) Entries() []entry.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ei.Entries()
}

// persistClockSet stores the updated ClockSet for handle to the backend, if
// a backend is configured. Must be called with r.mu held.
func (r *Replica) persistClockSet(h peer.LocalPeerHandle) error {
	if r.cfg.Backend == nil {
		return nil
	}
	cs := r.pr.ClockSet(h)
	if cs == nil {
		return nil
	}
	data, err := cs.Serialize()
	if err != nil {
		return err
	}
	if err := r.cfg.Backend.StoreCS(h, data); err != nil {
		wrapped := wrapBackendErr(err)
		r.cfg.Logger.Errorf("cubby: persist clock set for handle %d failed: %v", h, wrapped)
		return wrapped
	}
	return nil
}

func sortHandles(hs []peer.LocalPeerHandle) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0 && hs[j-1] > hs[j]; j-- {
			hs[j-1], hs[j] = hs[j], hs[j-1]
		}
	}
}
