// Package entry implements the Entry Index (EI): the authoritative
// key -> (value, author, hlc) mapping plus the inverse (author, hlc) ->
// key index used to resolve ClockSet differences back into concrete
// operations, per spec.md §4.4.
package entry

import (
	"sort"

	"github.com/alex-shapiro/cubby/peer"
)

// Entry is a single (key, value, author, hlc) record. It is never
// mutated in place; an overwrite replaces the whole record.
type Entry struct {
	Key    []byte
	Value  []byte
	Author peer.LocalPeerHandle
	HLC    uint64
}

// Version identifies a specific write by its author and HLC. It is the
// unit the overwrite comparator orders.
type Version struct {
	Author peer.LocalPeerHandle
	HLC    uint64
}

// Less implements the overwrite comparator from spec.md §4.4:
// compare_version((a, h)) = (h, a) — primarily by HLC, tie-broken by
// author handle (DESIGN.md's resolution of the §9 "ambiguous source
// behavior" open question).
func (v Version) Less(other Version) bool {
	if v.HLC != other.HLC {
		return v.HLC < other.HLC
	}
	return v.Author < other.Author
}

type versionKey struct {
	author peer.LocalPeerHandle
	hlc    uint64
}

// Index is the Entry Index. The zero value is not usable; construct with
// New.
type Index struct {
	byKey     map[string]*Entry
	byVersion map[versionKey][]byte
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byKey:     make(map[string]*Entry),
		byVersion: make(map[versionKey][]byte),
	}
}

// Get returns the value stored at key, if any.
func (ix *Index) Get(key []byte) ([]byte, bool) {
	e, ok := ix.byKey[string(key)]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetEntry returns the full Entry stored at key, if any.
func (ix *Index) GetEntry(key []byte) (*Entry, bool) {
	e, ok := ix.byKey[string(key)]
	return e, ok
}

// Displaced describes the version an accepted Put overwrote, so the
// caller can update the Peer Registry's ClockSet for the old author.
type Displaced struct {
	Author peer.LocalPeerHandle
	HLC    uint64
}

// WouldAccept reports whether Put(key, _, author, h) would be accepted,
// without installing anything. Used by callers that must confirm a
// write with a persistence backend before committing it to the index
// (spec.md §7: "writes are applied to EI and PR only after the backend
// confirms, when a backend is present").
func (ix *Index) WouldAccept(key []byte, author peer.LocalPeerHandle, h uint64) bool {
	existing, ok := ix.byKey[string(key)]
	if !ok {
		return true
	}
	existingVersion := Version{Author: existing.Author, HLC: existing.HLC}
	return existingVersion.Less(Version{Author: author, HLC: h})
}

// Put installs (key, value, author, hlc) if and only if its Version is
// strictly greater than whatever is currently stored at key, per the
// overwrite comparator. Returns (accepted, displaced, hadDisplaced).
// accepted is false if the incoming version lost to what's already
// there; the caller must then drop the incoming op/diff entry.
func (ix *Index) Put(key, value []byte, author peer.LocalPeerHandle, h uint64) (accepted bool, displaced Displaced, hadDisplaced bool) {
	newVersion := Version{Author: author, HLC: h}
	ks := string(key)
	if existing, ok := ix.byKey[ks]; ok {
		existingVersion := Version{Author: existing.Author, HLC: existing.HLC}
		if !existingVersion.Less(newVersion) {
			return false, Displaced{}, false
		}
		delete(ix.byVersion, versionKey{existing.Author, existing.HLC})
		displaced = Displaced{Author: existing.Author, HLC: existing.HLC}
		hadDisplaced = true
	}
	keyCopy := append([]byte(nil), key...)
	valueCopy := append([]byte(nil), value...)
	ix.byKey[ks] = &Entry{Key: keyCopy, Value: valueCopy, Author: author, HLC: h}
	ix.byVersion[versionKey{author, h}] = keyCopy
	return true, displaced, hadDisplaced
}

// Delete removes the entry at key outright, used when a state sync
// delivers a "delete" for a version that still matches what's stored
// locally (spec.md §4.6, scenario S4). Returns false if key wasn't
// present or its (author, hlc) no longer matched (already superseded).
func (ix *Index) Delete(key []byte, author peer.LocalPeerHandle, h uint64) bool {
	existing, ok := ix.byKey[string(key)]
	if !ok || existing.Author != author || existing.HLC != h {
		return false
	}
	delete(ix.byKey, string(key))
	delete(ix.byVersion, versionKey{author, h})
	return true
}

// LookupByVersion resolves (author, hlc) back to the key it wrote, if
// that write is still live (not since overwritten).
func (ix *Index) LookupByVersion(author peer.LocalPeerHandle, h uint64) ([]byte, bool) {
	key, ok := ix.byVersion[versionKey{author, h}]
	return key, ok
}

// Len returns the number of live entries.
func (ix *Index) Len() int {
	return len(ix.byKey)
}

// Entries returns every live (key, value) pair in ascending key order.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.byKey))
	for _, e := range ix.byKey {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Key) < string(out[j].Key)
	})
	return out
}
