package cubby

import "github.com/pkg/errors"

// Error kinds from spec.md §7. Overwrite-policy rejections during op or
// diff integration are deliberately not among these: they are expected
// and silent, not errors (spec.md §7 "Policy").
var (
	// ErrMalformedState means a ClockSet, DiffRequest, DiffResponse, or
	// Op failed to decode. Deserialization errors during sync are fatal
	// for that sync attempt only; they do not corrupt replica state.
	ErrMalformedState = errors.New("cubby: malformed state")

	// ErrTxnInProgress means a write was attempted while a Txn from
	// Begin is already open on this Replica.
	ErrTxnInProgress = errors.New("cubby: transaction already in progress")

	// ErrClockRegression means the HLC allocator's persisted last-issued
	// value is implausibly far ahead of the current wall-clock
	// candidate, suggesting corruption rather than ordinary clock skew.
	// Non-recoverable for this Replica instance.
	ErrClockRegression = errors.New("cubby: clock regression exceeds tolerance")

	// ErrBackendFailure wraps an error reported by the persistence
	// backend, surfaced verbatim (spec.md §7). The engine leaves its
	// previous consistent state intact: EI/PR are only mutated after
	// the backend confirms a write.
	ErrBackendFailure = errors.New("cubby: backend failure")
)

func wrapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(ErrBackendFailure, err.Error())
}
