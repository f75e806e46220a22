package cubby

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/alex-shapiro/cubby/clockset"
	"github.com/alex-shapiro/cubby/peer"
	"github.com/alex-shapiro/cubby/wire"
)

// RequestDiff snapshots this replica's Peer Registry into a DiffRequest,
// the first step of state sync (spec.md §4.6). The caller ships the
// result to a peer out of band; transport is out of scope.
func (r *Replica) RequestDiff() (wire.DiffRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := r.pr.Snapshot()
	peers := make([]wire.PeerCS, 0, len(snaps))
	for _, s := range snaps {
		data, err := s.CS.Serialize()
		if err != nil {
			return wire.DiffRequest{}, errors.Wrap(ErrMalformedState, err.Error())
		}
		peers = append(peers, wire.PeerCS{PeerID: s.ID, CSBytes: data, Reserved: s.Reserved})
	}
	return wire.DiffRequest{Peers: peers}, nil
}

func findPeerCS(req wire.DiffRequest, id peer.ID) (wire.PeerCS, bool) {
	for _, p := range req.Peers {
		if bytes.Equal(p.PeerID, id) {
			return p, true
		}
	}
	return wire.PeerCS{}, false
}

// BuildDiff computes the minimum inserts/deletes a requester needs to
// catch up, per spec.md §4.6's build_diff: for every peer this replica
// (the responder) knows about, compare the requester's claimed ClockSet
// against this replica's own, using the requester's known max as the
// insert pivot and this replica's own max as the delete pivot. Peers present in the request but unknown to this
// replica are ignored, since this replica cannot contribute anything for
// them.
func (r *Replica) BuildDiff(req wire.DiffRequest) (wire.DiffResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	begin := time.Now()

	var resp wire.DiffResponse
	for _, bh := range r.pr.Handles() {
		peerID, ok := r.pr.PeerID(bh)
		if !ok {
			continue
		}
		bCS := r.pr.ClockSet(bh)

		var aCS *clockset.ClockSet
		if entry, found := findPeerCS(req, peerID); found {
			cs, err := clockset.Deserialize(entry.CSBytes)
			if err != nil {
				return wire.DiffResponse{}, errors.Wrap(ErrMalformedState, err.Error())
			}
			aCS = cs
		} else {
			aCS = clockset.New()
		}

		aEmpty := aCS.IsEmpty()
		aMax := aCS.Max()
		inserts := bCS.Difference(aCS)
		inserts.IterAscending(func(v uint64) bool {
			if !aEmpty && v <= aMax {
				return true
			}
			key, found := r.ei.LookupByVersion(bh, v)
			if !found {
				// This replica itself no longer has an entry for this
				// version (it was overwritten locally before anyone else
				// observed it); nothing to ship.
				return true
			}
			value, _ := r.ei.Get(key)
			resp.Inserts = append(resp.Inserts, wire.Op{
				PeerID: append(peer.ID(nil), peerID...),
				HLC:    v,
				Key:    append([]byte(nil), key...),
				Value:  append([]byte(nil), value...),
			})
			return true
		})

		bMax := bCS.Max()
		deletes := aCS.Difference(bCS)
		deletes.IterAscending(func(v uint64) bool {
			if v <= bMax {
				resp.Deletes = append(resp.Deletes, wire.Delete{
					PeerID: append(peer.ID(nil), peerID...),
					HLC:    v,
				})
			}
			return true
		})
	}
	r.cfg.Logger.Debugf("cubby: build_diff pass took %s: peers=%d inserts=%d deletes=%d", time.Now().Sub(begin), len(req.Peers), len(resp.Inserts), len(resp.Deletes))
	return resp, nil
}

// IntegrateDiff applies a DiffResponse received from a peer: accepted
// inserts go through the overwrite comparator exactly like a local
// write, and deletes remove an entry only if it still matches the
// version the responder said was gone (spec.md §4.6).
func (r *Replica) IntegrateDiff(resp wire.DiffResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := map[peer.LocalPeerHandle]bool{}
	for _, op := range resp.Inserts {
		h := r.pr.Intern(peer.ID(op.PeerID))
		if !r.ei.WouldAccept(op.Key, h, op.HLC) {
			continue
		}
		if r.cfg.Backend != nil {
			if err := r.cfg.Backend.UpsertEntry(op.Key, op.Value, h, op.HLC); err != nil {
				wrapped := wrapBackendErr(err)
				r.cfg.Logger.Errorf("cubby: integrate_diff: backend upsert failed: %v", wrapped)
				return wrapped
			}
		}
		_, displaced, hadDisplaced := r.ei.Put(op.Key, op.Value, h, op.HLC)
		r.pr.Touch(h, op.HLC)
		touched[h] = true
		if hadDisplaced {
			r.pr.Forget(displaced.Author, displaced.HLC)
			touched[displaced.Author] = true
		}
	}
	for _, d := range resp.Deletes {
		h := r.pr.Intern(peer.ID(d.PeerID))
		key, found := r.ei.LookupByVersion(h, d.HLC)
		if !found {
			// Already gone or superseded locally; drop silently.
			continue
		}
		if r.cfg.Backend != nil {
			if err := r.cfg.Backend.DeleteEntry(key); err != nil {
				wrapped := wrapBackendErr(err)
				r.cfg.Logger.Errorf("cubby: integrate_diff: backend delete failed: %v", wrapped)
				return wrapped
			}
		}
		r.ei.Delete(key, h, d.HLC)
		r.pr.Forget(h, d.HLC)
		touched[h] = true
	}
	for h := range touched {
		if err := r.persistClockSet(h); err != nil {
			return err
		}
	}
	r.cfg.Logger.Debugf("cubby: integrate_diff: inserts=%d deletes=%d", len(resp.Inserts), len(resp.Deletes))
	return nil
}

// integrateOpLocked applies a single op through the overwrite comparator.
// Must be called with r.mu held.
func (r *Replica) integrateOpLocked(op wire.Op) error {
	h := r.pr.Intern(peer.ID(op.PeerID))
	if !r.ei.WouldAccept(op.Key, h, op.HLC) {
		// Expected and silent per spec.md §7: the losing version is
		// cleaned up at its origin and state sync reconciles the rest.
		return nil
	}
	if r.cfg.Backend != nil {
		if err := r.cfg.Backend.UpsertEntry(op.Key, op.Value, h, op.HLC); err != nil {
			wrapped := wrapBackendErr(err)
			r.cfg.Logger.Errorf("cubby: integrate_op: backend upsert failed: %v", wrapped)
			return wrapped
		}
	}
	_, displaced, hadDisplaced := r.ei.Put(op.Key, op.Value, h, op.HLC)
	r.pr.Touch(h, op.HLC)
	if err := r.persistClockSet(h); err != nil {
		return err
	}
	if hadDisplaced {
		r.pr.Forget(displaced.Author, displaced.HLC)
		if err := r.persistClockSet(displaced.Author); err != nil {
			return err
		}
	}
	return nil
}

// IntegrateOp applies a single pushed op (op sync, spec.md §4.6). Safe
// to call with ops arriving out of order, duplicated, or concurrently
// from multiple peers: the overwrite comparator is total and
// deterministic, so integration is idempotent and commutative (spec.md
// §8 properties 1-2).
func (r *Replica) IntegrateOp(op wire.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.integrateOpLocked(op)
}

// IntegrateOps applies a batch of pushed ops, e.g. the output of a local
// Txn.CommitWithOps shipped to a peer.
func (r *Replica) IntegrateOps(ops []wire.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range ops {
		if err := r.integrateOpLocked(op); err != nil {
			return err
		}
	}
	return nil
}
