// Package peer implements the Peer Registry (PR): the bidirectional
// mapping between a peer's stable PeerId and a dense LocalPeerHandle, plus
// per-peer bookkeeping (ClockSet, persistence bookmark) described in
// spec.md §4.2.
package peer

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alex-shapiro/cubby/clockset"
)

// LocalPeerHandle is a dense, non-negative, replica-local integer assigned
// on first sighting of a PeerId. Handle 0 is reserved for "unassigned".
type LocalPeerHandle uint32

// Unassigned is the reserved handle value meaning "no peer".
const Unassigned LocalPeerHandle = 0

// ID is an opaque, globally unique, immutable byte string identifying a
// peer across the whole replica set.
type ID []byte

// NewID returns a fresh, globally unique PeerId, minted the way
// calvinalkan-agent-task mints ticket IDs: a time-ordered UUIDv7 so IDs
// also sort roughly by creation time, which is convenient for operators
// inspecting a registry dump but is never relied upon for correctness.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system's random source is broken; fall
		// back to a pure-random v4 rather than propagating an error from
		// what callers treat as an infallible constructor.
		id = uuid.New()
	}
	b := id[:]
	out := make(ID, len(b))
	copy(out, b)
	return out
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

type peerState struct {
	id       ID
	handle   LocalPeerHandle
	cs       *clockset.ClockSet
	bookmark int64
}

// Registry is the Peer Registry. The zero value is not usable; construct
// with New.
type Registry struct {
	mu        sync.RWMutex
	byHandle  map[LocalPeerHandle]*peerState
	byID      map[string]*peerState
	nextHandle LocalPeerHandle
	local     LocalPeerHandle
}

// New returns a Registry seeded with the local replica's own PeerId,
// which is assigned the first handle the registry produces (handle 1, per
// spec.md §3) so it is always present, satisfying the PR invariant that
// the local peer is never unknown to itself.
func New(localID ID) *Registry {
	r := &Registry{
		byHandle: make(map[LocalPeerHandle]*peerState),
		byID:     make(map[string]*peerState),
	}
	r.local = r.intern(localID)
	return r
}

// Local returns the handle assigned to the local replica's own PeerId.
func (r *Registry) Local() LocalPeerHandle {
	return r.local
}

// Intern returns the existing handle for id, or assigns and returns a
// fresh one. Handles are never reused, even if a peer is later forgotten
// (forgetting is not itself a supported operation; only HLCs within a
// peer's ClockSet are added and removed).
func (r *Registry) Intern(id ID) LocalPeerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intern(id)
}

// intern must be called with mu held for writing.
func (r *Registry) intern(id ID) LocalPeerHandle {
	key := string(id)
	if ps, ok := r.byID[key]; ok {
		return ps.handle
	}
	r.nextHandle++
	ps := &peerState{
		id:     append(ID(nil), id...),
		handle: r.nextHandle,
		cs:     clockset.New(),
	}
	r.byHandle[ps.handle] = ps
	r.byID[key] = ps
	return ps.handle
}

// PeerID returns the PeerId for a handle, or (nil, false) if the handle is
// unknown to this registry.
func (r *Registry) PeerID(h LocalPeerHandle) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.byHandle[h]
	if !ok {
		return nil, false
	}
	return ps.id, true
}

// Handle returns the handle for a PeerId, or (Unassigned, false) if the
// peer has never been interned.
func (r *Registry) Handle(id ID) (LocalPeerHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.byID[string(id)]
	if !ok {
		return Unassigned, false
	}
	return ps.handle, true
}

// ClockSet returns the shared ClockSet for a handle. Callers must not
// mutate it directly; go through Touch/Forget so the registry's view
// stays consistent. Returns nil if the handle is unknown.
func (r *Registry) ClockSet(h LocalPeerHandle) *clockset.ClockSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.byHandle[h]
	if !ok {
		return nil
	}
	return ps.cs
}

// Touch adds hlc to the ClockSet of the peer at handle h. Idempotent. A
// no-op if h is not a known handle.
func (r *Registry) Touch(h LocalPeerHandle, hlc uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.byHandle[h]; ok {
		ps.cs.Add(hlc)
	}
}

// Forget removes hlc from the ClockSet of the peer at handle h.
// Idempotent. A no-op if h is not a known handle.
func (r *Registry) Forget(h LocalPeerHandle, hlc uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.byHandle[h]; ok {
		ps.cs.Remove(hlc)
	}
}

// Bookmark returns the persistence bookmark for handle h. The registry
// only stores and returns this value; its meaning is entirely up to the
// persistence backend (spec.md §4.2).
func (r *Registry) Bookmark(h LocalPeerHandle) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.byHandle[h]
	if !ok {
		return 0, false
	}
	return ps.bookmark, true
}

// SetBookmark updates the persistence bookmark for handle h.
func (r *Registry) SetBookmark(h LocalPeerHandle, bookmark int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.byHandle[h]; ok {
		ps.bookmark = bookmark
	}
}

// Snapshot is a single peer's materialized state for state sync: its
// identity and the ClockSet of HLCs this replica has observed for it.
type Snapshot struct {
	ID    ID
	CS    *clockset.ClockSet
	// Reserved is always empty in this version. It exists so a future
	// peer-state LRU cache-hint extension (a cached max plus a prefix
	// hash, per spec.md §9's open question) can ride along in the wire
	// format without breaking it; see SPEC_FULL.md §5.
	Reserved []byte
}

// Snapshot materializes every known peer's state, sorted ascending by
// PeerId bytes so that equal registries produce byte-identical
// serialized DiffRequests (spec.md §4.2, §8 property 7).
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byHandle))
	for _, ps := range r.byHandle {
		out = append(out, Snapshot{ID: ps.id, CS: ps.cs.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

// Handles returns every handle currently known, in no particular order.
func (r *Registry) Handles() []LocalPeerHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LocalPeerHandle, 0, len(r.byHandle))
	for h := range r.byHandle {
		out = append(out, h)
	}
	return out
}
