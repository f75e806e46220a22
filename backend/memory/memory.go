// Package memory provides an in-memory reference implementation of the
// backend.Backend capability set. It exists because the replication
// engine is explicitly parametric over its persistence collaborator
// (spec.md §9 "Polymorphism") and needs at least one implementation to
// be testable; it is not a persistence product (see SPEC_FULL.md §6).
//
// The entry table is sharded the way the teacher's ValuesStore shards
// its in-memory location map: a murmur3 hash of the key picks a bucket,
// each bucket guarded by its own mutex, mirroring valuesstore.go's own
// use of spaolacci/murmur3 to place keys before taking a lock.
package memory

import (
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/alex-shapiro/cubby/peer"
)

const shardCount = 16

type entryRow struct {
	value  []byte
	author peer.LocalPeerHandle
	hlc    uint64
}

type versionKey struct {
	author peer.LocalPeerHandle
	hlc    uint64
}

type shard struct {
	mu        sync.Mutex
	byKey     map[string]entryRow
	byVersion map[versionKey]string
}

type peerRow struct {
	id       peer.ID
	bookmark int64
}

// Backend is the in-memory reference implementation of backend.Backend.
type Backend struct {
	shards [shardCount]*shard

	metaMu       sync.Mutex
	metaHandle   peer.LocalPeerHandle
	metaFound    bool

	peersMu sync.Mutex
	peers   map[peer.LocalPeerHandle]peerRow

	csMu sync.Mutex
	cs   map[peer.LocalPeerHandle][]byte
}

// New returns an empty in-memory Backend.
func New() *Backend {
	b := &Backend{
		peers: make(map[peer.LocalPeerHandle]peerRow),
		cs:    make(map[peer.LocalPeerHandle][]byte),
	}
	for i := range b.shards {
		b.shards[i] = &shard{
			byKey:     make(map[string]entryRow),
			byVersion: make(map[versionKey]string),
		}
	}
	return b
}

func (b *Backend) shardFor(key []byte) *shard {
	h := murmur3.Sum64(key)
	return b.shards[h%uint64(shardCount)]
}

// ReadMetadata implements backend.Backend.
func (b *Backend) ReadMetadata() (peer.LocalPeerHandle, bool, error) {
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	return b.metaHandle, b.metaFound, nil
}

// WriteMetadata implements backend.Backend.
func (b *Backend) WriteMetadata(handle peer.LocalPeerHandle) error {
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	b.metaHandle = handle
	b.metaFound = true
	return nil
}

// UpsertPeer implements backend.Backend.
func (b *Backend) UpsertPeer(handle peer.LocalPeerHandle, id peer.ID, bookmark int64) error {
	b.peersMu.Lock()
	defer b.peersMu.Unlock()
	b.peers[handle] = peerRow{id: append(peer.ID(nil), id...), bookmark: bookmark}
	return nil
}

// IteratePeers implements backend.Backend.
func (b *Backend) IteratePeers(fn func(peer.LocalPeerHandle, peer.ID, int64) error) error {
	b.peersMu.Lock()
	rows := make(map[peer.LocalPeerHandle]peerRow, len(b.peers))
	for h, r := range b.peers {
		rows[h] = r
	}
	b.peersMu.Unlock()
	for h, r := range rows {
		if err := fn(h, r.id, r.bookmark); err != nil {
			return err
		}
	}
	return nil
}

// LoadCS implements backend.Backend.
func (b *Backend) LoadCS(handle peer.LocalPeerHandle) ([]byte, bool, error) {
	b.csMu.Lock()
	defer b.csMu.Unlock()
	data, ok := b.cs[handle]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// StoreCS implements backend.Backend.
func (b *Backend) StoreCS(handle peer.LocalPeerHandle, csBytes []byte) error {
	b.csMu.Lock()
	defer b.csMu.Unlock()
	b.cs[handle] = append([]byte(nil), csBytes...)
	return nil
}

// UpsertEntry implements backend.Backend.
func (b *Backend) UpsertEntry(key, value []byte, author peer.LocalPeerHandle, hlc uint64) error {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := string(key)
	if old, ok := s.byKey[ks]; ok {
		delete(s.byVersion, versionKey{old.author, old.hlc})
	}
	s.byKey[ks] = entryRow{value: append([]byte(nil), value...), author: author, hlc: hlc}
	s.byVersion[versionKey{author, hlc}] = ks
	return nil
}

// DeleteEntry implements backend.Backend.
func (b *Backend) DeleteEntry(key []byte) error {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := string(key)
	if old, ok := s.byKey[ks]; ok {
		delete(s.byVersion, versionKey{old.author, old.hlc})
		delete(s.byKey, ks)
	}
	return nil
}

// LookupByVersion implements backend.Backend. Because the version index
// is keyed per shard but a version's shard is only knowable from its
// key, this scans every shard's version index; the in-memory backend is
// a reference implementation, not a performance target (SPEC_FULL.md
// §6).
func (b *Backend) LookupByVersion(author peer.LocalPeerHandle, hlc uint64) ([]byte, bool, error) {
	vk := versionKey{author, hlc}
	for _, s := range b.shards {
		s.mu.Lock()
		ks, ok := s.byVersion[vk]
		s.mu.Unlock()
		if ok {
			return []byte(ks), true, nil
		}
	}
	return nil, false, nil
}

// IterateEntries implements backend.Backend.
func (b *Backend) IterateEntries(fn func(key, value []byte, author peer.LocalPeerHandle, hlc uint64) error) error {
	for _, s := range b.shards {
		s.mu.Lock()
		rows := make(map[string]entryRow, len(s.byKey))
		for k, v := range s.byKey {
			rows[k] = v
		}
		s.mu.Unlock()
		for k, v := range rows {
			if err := fn([]byte(k), v.value, v.author, v.hlc); err != nil {
				return err
			}
		}
	}
	return nil
}
