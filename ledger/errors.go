package ledger

import "errors"

var (
	// ErrNotFound indicates no entry exists for the given file hash.
	ErrNotFound = errors.New("ledger: entry not found")

	// ErrStateConflict indicates the entry is no longer in the expected state.
	ErrStateConflict = errors.New("ledger: entry state changed concurrently")

	// ErrIllegalTransition indicates the requested state change is not allowed.
	ErrIllegalTransition = errors.New("ledger: illegal state transition")
)
