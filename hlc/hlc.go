// Package hlc implements the HLC Allocator (HA): a monotonically
// increasing 64 bit Hybrid Logical Clock for the local peer, blending a
// coarse wall-clock component with a per-transaction counter, per
// spec.md §4.3.
package hlc

import (
	"time"

	"github.com/pkg/errors"
	brimtime "gopkg.in/gholt/brimtime.v1"
)

// counterBits is the width of the low-order per-transaction counter.
// The remaining high bits hold milliseconds since Epoch. This mirrors
// the teacher's own timestamp-bits split (package.go's _TSB_UTIL_BITS),
// just sized for a counter instead of deletion/bookkeeping flags.
const counterBits = 20

// Epoch is the fixed reference point HLCs are measured from. Using a
// recent epoch rather than the Unix epoch leaves more of the 64 bits for
// the wall-clock component before the counter bits are carved off.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrClockRegression is returned by Next when the persisted last-issued
// HLC is further ahead of the current wall-clock candidate than
// MaxRegression tolerates, suggesting state corruption or a badly wrong
// system clock rather than ordinary clock skew.
var ErrClockRegression = errors.New("hlc: clock regression exceeds tolerance")

// MaxRegression bounds how far ahead of the wall clock the persisted
// last-issued HLC is allowed to be before Next refuses to paper over the
// gap with ErrClockRegression. Ten years, per spec.md §7.
const MaxRegression = 10 * 365 * 24 * time.Hour

// Now is the wall-clock source, overridable in tests.
var Now = time.Now

// Allocator produces strictly increasing HLCs for the local peer.
type Allocator struct {
	lastIssued uint64
}

// New returns an Allocator seeded from a persisted last-issued HLC (0 if
// this is a fresh replica with nothing persisted yet, per spec.md §3's
// replica lifecycle: "HA seeded from persisted state (if any) or current
// wall clock").
func New(persistedLastIssued uint64) *Allocator {
	return &Allocator{lastIssued: persistedLastIssued}
}

// epochMicro is Epoch expressed the way the teacher's own timestamp math
// does (grouppullreplication_GEN_.go uses brimtime.TimeToUnixMicro for
// its tombstone-cutoff arithmetic); wallCandidate subtracts through this
// representation instead of time.Time.Sub so both ends of the
// subtraction go through the same conversion.
var epochMicro = brimtime.TimeToUnixMicro(Epoch)

func wallCandidate(t time.Time) uint64 {
	micro := brimtime.TimeToUnixMicro(t)
	ms := (micro - epochMicro) / 1000
	if ms < 0 {
		ms = 0
	}
	return uint64(ms) << counterBits
}

// Next returns a fresh HLC, strictly greater than every HLC this
// Allocator has ever returned, regardless of wall-clock skew, backward
// clock jumps, or process restarts (as long as persistedLastIssued was
// passed to New accurately).
func (a *Allocator) Next() (uint64, error) {
	return a.next(Now())
}

func (a *Allocator) next(now time.Time) (uint64, error) {
	return a.reserve(now, 1)
}

// reserve returns the first of n contiguous, strictly increasing HLCs
// and advances lastIssued past all of them in one step.
func (a *Allocator) reserve(now time.Time, n uint64) (uint64, error) {
	if n < 1 {
		n = 1
	}
	candidate := wallCandidate(now)
	var base uint64
	if candidate > a.lastIssued {
		base = candidate
	} else {
		if a.lastIssued-candidate > uint64(MaxRegression.Milliseconds())<<counterBits {
			return 0, ErrClockRegression
		}
		base = a.lastIssued + 1
	}
	a.lastIssued = base + n - 1
	return base, nil
}

// NextBatch reserves n contiguous HLCs for a transaction of n writes (n
// must be >= 1) and returns the first one; the caller assigns base+i to
// its i-th write in sorted order. Reserving a contiguous run, rather
// than sharing one HLC across the whole batch, is what lets the
// ClockSet compress a whole transaction's worth of writes into one
// contiguous run (spec.md §4.3, §4.5, scenario S5) while still giving
// the Entry Index's (author, hlc) -> key inverse index a distinct
// version per write (spec.md §4.4).
func (a *Allocator) NextBatch(n int) (uint64, error) {
	if n < 1 {
		n = 1
	}
	return a.reserve(Now(), uint64(n))
}

// LastIssued returns the most recently issued HLC, for the caller to
// persist across restarts.
func (a *Allocator) LastIssued() uint64 {
	return a.lastIssued
}

// Split decomposes an HLC into its wall-clock millisecond component and
// its counter component, mostly useful for debugging and Stats output.
func Split(h uint64) (wallMillis uint64, counter uint64) {
	return h >> counterBits, h & (1<<counterBits - 1)
}
