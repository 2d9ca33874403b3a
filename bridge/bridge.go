// Package bridge defines the contract between the anchoring engine and an
// external ledger: submit an anchoring transaction for a content digest and
// poll its status. Implementations own signing and network access.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfsorg/anchorstore/hasher"
)

// PollState is the ledger-side status of a submitted transaction.
type PollState uint8

const (
	PollPending PollState = iota
	PollConfirmed
	PollRejected
)

func (s PollState) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollConfirmed:
		return "confirmed"
	case PollRejected:
		return "rejected"
	default:
		return fmt.Sprintf("PollState(%d)", uint8(s))
	}
}

// PollResult reports the status of a submitted transaction.
type PollResult struct {
	State       PollState
	BlockID     string
	BlockHeight uint64
	// ConfirmedAt is the inclusion time when the ledger reports one.
	ConfirmedAt time.Time
}

// Bridge submits anchoring transactions and polls their status. Errors should
// be *Error values or wrap one of the package sentinels; unclassified errors
// are treated as transient.
type Bridge interface {
	// Submit signs and broadcasts a transaction anchoring fileHash and returns
	// the external transaction identifier.
	Submit(ctx context.Context, fileHash hasher.Digest, metadata map[string]string) (string, error)

	// Poll reports the status of a previously submitted transaction.
	Poll(ctx context.Context, txID string) (PollResult, error)
}
