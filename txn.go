package cubby

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/alex-shapiro/cubby/hlc"
	"github.com/alex-shapiro/cubby/peer"
	"github.com/alex-shapiro/cubby/wire"
)

// ErrTxnClosed means a method was called on a Txn that has already been
// committed or aborted.
var ErrTxnClosed = errors.New("cubby: transaction already closed")

// Txn is the Transaction Buffer (TB): it stages writes locally and, on
// commit, reserves one contiguous run of HLCs for the whole batch and
// emits the accepted writes as a batch of ops (spec.md §4.5).
type Txn struct {
	r      *Replica
	staged map[string][]byte
}

// Begin opens a Txn. Only one Txn may be open on a Replica at a time;
// a second Begin fails with ErrTxnInProgress (spec.md §5).
func (r *Replica) Begin() (*Txn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txn != nil {
		return nil, ErrTxnInProgress
	}
	t := &Txn{r: r, staged: make(map[string][]byte)}
	r.txn = t
	return t, nil
}

// Stage records a pending write. Last write to a key wins within the
// transaction (spec.md §4.3).
func (t *Txn) Stage(key, value []byte) {
	t.staged[string(key)] = append([]byte(nil), value...)
}

// Abort discards the staging map; no HLC is consumed.
func (t *Txn) Abort() {
	r := t.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txn == t {
		r.txn = nil
	}
}

func mapHLCErr(err error) error {
	if errors.Is(err, hlc.ErrClockRegression) {
		return ErrClockRegression
	}
	return err
}

// CommitWithOps reserves one contiguous run of HLCs sized to the staged
// batch, assigns one distinct HLC per write in key-sorted order, applies
// each through the overwrite comparator, and returns the ops for only
// the writes that were actually accepted (spec.md §4.5). A write can
// lose to something already in the Entry Index even within a local
// commit (e.g. a remote write with a higher HLC raced in before this
// commit); that is not an error, it is simply omitted from the returned
// batch. The whole run shares one transaction timestamp's worth of
// wall-clock bits, so the ClockSet still records it as a single
// contiguous range (spec.md §4.3, scenario S5) even though each write
// gets its own version for the Entry Index's inverse index (spec.md
// §4.4).
func (t *Txn) CommitWithOps() ([]wire.Op, error) {
	r := t.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txn != t {
		return nil, ErrTxnClosed
	}
	defer func() { r.txn = nil }()

	if len(t.staged) == 0 {
		return nil, nil
	}

	base, err := r.ha.NextBatch(len(t.staged))
	if err != nil {
		mapped := mapHLCErr(err)
		r.cfg.Logger.Warnf("cubby: txn commit: %v", mapped)
		return nil, mapped
	}

	keys := make([]string, 0, len(t.staged))
	for k := range t.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	local := r.pr.Local()
	touchedPeers := map[peer.LocalPeerHandle]bool{}
	var ops []wire.Op
	for i, k := range keys {
		h := base + uint64(i)
		key := []byte(k)
		value := t.staged[k]
		if !r.ei.WouldAccept(key, local, h) {
			continue
		}
		if r.cfg.Backend != nil {
			if err := r.cfg.Backend.UpsertEntry(key, value, local, h); err != nil {
				wrapped := wrapBackendErr(err)
				r.cfg.Logger.Errorf("cubby: txn commit: backend upsert failed: %v", wrapped)
				return nil, wrapped
			}
		}
		_, displaced, hadDisplaced := r.ei.Put(key, value, local, h)
		r.pr.Touch(local, h)
		touchedPeers[local] = true
		if hadDisplaced {
			r.pr.Forget(displaced.Author, displaced.HLC)
			touchedPeers[displaced.Author] = true
		}
		ops = append(ops, wire.Op{PeerID: append(peer.ID(nil), r.localID...), HLC: h, Key: key, Value: value})
	}

	for ph := range touchedPeers {
		if err := r.persistClockSet(ph); err != nil {
			return nil, err
		}
	}
	r.cfg.Logger.Debugf("cubby: txn commit: staged=%d accepted=%d base_hlc=%d", len(t.staged), len(ops), base)
	return ops, nil
}

// Insert is a one-write convenience transaction: begin, stage, commit.
// Returns the zero Op (and no error) if the write lost to something
// already present under the overwrite comparator.
func (r *Replica) Insert(key, value []byte) (wire.Op, error) {
	t, err := r.Begin()
	if err != nil {
		return wire.Op{}, err
	}
	t.Stage(key, value)
	ops, err := t.CommitWithOps()
	if err != nil {
		return wire.Op{}, err
	}
	if len(ops) == 0 {
		return wire.Op{}, nil
	}
	return ops[0], nil
}
