// Package backend declares the persistence-backend contract the
// replication engine is parametric over (spec.md §6, §9). Persistence
// itself — how bytes get to disk or a relational table — is explicitly
// out of scope for the engine (spec.md §1); this package only names the
// capability set a collaborator must provide.
package backend

import "github.com/alex-shapiro/cubby/peer"

// Backend is the capability set spec.md §9 names: a single metadata
// slot, a peer table, a per-peer ClockSet blob table, and an entry table
// indexed by (local_handle, hlc) as well as by key. The engine never
// issues a write spanning more than one of these logical operations
// (spec.md §6).
type Backend interface {
	// ReadMetadata returns the previously persisted local peer handle,
	// or found=false on a brand new backend.
	ReadMetadata() (handle peer.LocalPeerHandle, found bool, err error)
	// WriteMetadata persists the local peer handle.
	WriteMetadata(handle peer.LocalPeerHandle) error

	// UpsertPeer records (or updates) a (handle, id, bookmark) triple.
	UpsertPeer(handle peer.LocalPeerHandle, id peer.ID, bookmark int64) error
	// IteratePeers visits every persisted peer triple.
	IteratePeers(fn func(handle peer.LocalPeerHandle, id peer.ID, bookmark int64) error) error

	// LoadCS returns the serialized ClockSet for handle, if any.
	LoadCS(handle peer.LocalPeerHandle) (csBytes []byte, found bool, err error)
	// StoreCS persists the serialized ClockSet for handle.
	StoreCS(handle peer.LocalPeerHandle, csBytes []byte) error

	// UpsertEntry installs or replaces the row for key.
	UpsertEntry(key, value []byte, author peer.LocalPeerHandle, hlc uint64) error
	// DeleteEntry removes the row for key, if present.
	DeleteEntry(key []byte) error
	// LookupByVersion resolves (author, hlc) to a key via the
	// (local_handle, hlc) index.
	LookupByVersion(author peer.LocalPeerHandle, hlc uint64) (key []byte, found bool, err error)
	// IterateEntries visits every persisted (key, value, author, hlc) row.
	IterateEntries(fn func(key, value []byte, author peer.LocalPeerHandle, hlc uint64) error) error
}
