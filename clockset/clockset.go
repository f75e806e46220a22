// Package clockset implements the per-peer ClockSet (CS): a compressed set
// of 64 bit HLC values authored by one peer and observed at this replica.
//
// The representation is a roaring bitmap over the 64 bit HLC space, the
// same hierarchical high-bucket/container scheme spec.md §4.1 describes,
// provided here by github.com/RoaringBitmap/roaring/roaring64 rather than
// reimplemented: the container-adaptation thresholds, the three container
// strategies, and the canonical serialization are all the library's job.
package clockset

import (
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/pkg/errors"
)

// ErrMalformedState is returned by Deserialize when the input bytes are
// truncated or otherwise not a valid serialized ClockSet.
var ErrMalformedState = errors.New("clockset: malformed state")

// ClockSet is a compressed, ordered set of 64 bit HLC values.
type ClockSet struct {
	bits *roaring64.Bitmap
}

// New returns an empty ClockSet.
func New() *ClockSet {
	return &ClockSet{bits: roaring64.New()}
}

// FromValues returns a ClockSet containing exactly the given values.
func FromValues(values ...uint64) *ClockSet {
	cs := New()
	for _, v := range values {
		cs.bits.Add(v)
	}
	return cs
}

// Add inserts x into the set.
func (cs *ClockSet) Add(x uint64) {
	cs.bits.Add(x)
}

// Remove deletes x from the set. Idempotent.
func (cs *ClockSet) Remove(x uint64) {
	cs.bits.Remove(x)
}

// Contains reports whether x is a member of the set.
func (cs *ClockSet) Contains(x uint64) bool {
	return cs.bits.Contains(x)
}

// Cardinality returns the number of members.
func (cs *ClockSet) Cardinality() uint64 {
	return cs.bits.GetCardinality()
}

// Max returns the maximum member, or 0 if the set is empty. 0 is a safe
// sentinel here because HLC 0 is never issued (see hlc.Allocator).
func (cs *ClockSet) Max() uint64 {
	if cs.bits.IsEmpty() {
		return 0
	}
	return cs.bits.Maximum()
}

// Min returns the minimum member, or 0 if the set is empty.
func (cs *ClockSet) Min() uint64 {
	if cs.bits.IsEmpty() {
		return 0
	}
	return cs.bits.Minimum()
}

// IsEmpty reports whether the set has no members.
func (cs *ClockSet) IsEmpty() bool {
	return cs.bits.IsEmpty()
}

// Clone returns an independent copy of cs.
func (cs *ClockSet) Clone() *ClockSet {
	return &ClockSet{bits: cs.bits.Clone()}
}

// Union returns a new ClockSet containing the members of cs and other.
func (cs *ClockSet) Union(other *ClockSet) *ClockSet {
	out := cs.Clone()
	if other != nil {
		out.bits.Or(other.bits)
	}
	return out
}

// Difference returns a new ClockSet containing members of cs that are not
// members of other (cs - other).
func (cs *ClockSet) Difference(other *ClockSet) *ClockSet {
	out := cs.Clone()
	if other != nil {
		out.bits.AndNot(other.bits)
	}
	return out
}

// Intersection returns a new ClockSet containing members present in both
// cs and other.
func (cs *ClockSet) Intersection(other *ClockSet) *ClockSet {
	out := cs.Clone()
	if other == nil {
		return New()
	}
	out.bits.And(other.bits)
	return out
}

// IterAscending calls fn for every member in ascending order, stopping
// early if fn returns false.
func (cs *ClockSet) IterAscending(fn func(uint64) bool) {
	it := cs.bits.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// Values materializes the set as a sorted slice. Intended for tests and
// small sets; callers processing large sets should use IterAscending.
func (cs *ClockSet) Values() []uint64 {
	out := make([]uint64, 0, cs.Cardinality())
	cs.IterAscending(func(v uint64) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Equal reports whether cs and other contain the same members.
func (cs *ClockSet) Equal(other *ClockSet) bool {
	if other == nil {
		return cs.IsEmpty()
	}
	return cs.bits.Equals(other.bits)
}

// Serialize returns the canonical byte representation of cs. Two sets
// with equal membership serialize to identical bytes regardless of the
// order their members were added in; this follows directly from the
// roaring container format being a pure function of set membership.
func (cs *ClockSet) Serialize() ([]byte, error) {
	return cs.bits.ToBytes()
}

// Deserialize is the inverse of Serialize. It returns ErrMalformedState
// (annotated with the underlying decode error's message) on truncated or
// invalid input.
func Deserialize(data []byte) (*ClockSet, error) {
	bits := roaring64.New()
	if _, err := bits.FromBuffer(data); err != nil {
		return nil, errors.Wrap(ErrMalformedState, err.Error())
	}
	return &ClockSet{bits: bits}, nil
}
