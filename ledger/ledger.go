package ledger

import (
	"context"
	"time"

	"github.com/bitfsorg/anchorstore/hasher"
)

// Ledger persists anchoring transaction entries.
//
// Enqueue is the only write path outside the monitor engine. After creation
// an entry changes only through Transition, which the engine calls as the
// single writer.
type Ledger interface {
	// Enqueue creates a Pending entry for hash. An existing Pending,
	// Submitted or Confirmed entry is returned unchanged with created=false.
	// A Failed or Rejected entry is archived to history and replaced by a
	// fresh Pending entry.
	Enqueue(ctx context.Context, hash hasher.Digest, metadata map[string]string, now time.Time) (entry Entry, created bool, err error)

	// Get returns the entry for hash.
	Get(ctx context.Context, hash hasher.Digest) (Entry, error)

	// Transition replaces the entry with next if its current state is from.
	Transition(ctx context.Context, next Entry, from TxState) error

	// Due returns Pending entries whose retry time is unset or not after now.
	Due(ctx context.Context, now time.Time) ([]Entry, error)

	// ListState returns all entries in state.
	ListState(ctx context.Context, state TxState) ([]Entry, error)

	// List returns all entries.
	List(ctx context.Context) ([]Entry, error)

	// History returns the superseded entries for hash, oldest first.
	History(ctx context.Context, hash hasher.Digest) ([]Entry, error)

	// Counts returns the number of entries per state.
	Counts(ctx context.Context) (map[TxState]int, error)
}
