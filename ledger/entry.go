// Package ledger keeps a durable record of every anchoring transaction and
// its lifecycle state. There is at most one entry per content digest.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfsorg/anchorstore/bridge"
	"github.com/bitfsorg/anchorstore/hasher"
)

// TxState is the lifecycle state of an anchoring transaction.
//
//	Pending -> Submitted -> Confirmed
//	   |           |------> Pending (retry)
//	   |           |------> Failed | Rejected
//	   |------------------> Failed | Rejected
type TxState uint8

const (
	Pending TxState = iota + 1
	Submitted
	Confirmed
	Failed
	Rejected
)

var stateNames = map[TxState]string{
	Pending:   "pending",
	Submitted: "submitted",
	Confirmed: "confirmed",
	Failed:    "failed",
	Rejected:  "rejected",
}

// States lists every state in lifecycle order.
func States() []TxState {
	return []TxState{Pending, Submitted, Confirmed, Failed, Rejected}
}

func (s TxState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TxState(%d)", uint8(s))
}

// ParseState parses a state name as returned by String.
func ParseState(name string) (TxState, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, sn := range stateNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("ledger: unknown state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s TxState) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("ledger: unknown state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TxState) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether no further transition can leave s.
func (s TxState) Terminal() bool {
	return s == Confirmed || s == Failed || s == Rejected
}

var transitions = map[TxState][]TxState{
	// Pending -> Pending reschedules a retry after a failed submission.
	Pending:   {Pending, Submitted, Failed, Rejected},
	Submitted: {Pending, Confirmed, Failed, Rejected},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to TxState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Entry is the ledger row for one content digest.
type Entry struct {
	FileHash     hasher.Digest     `cbor:"1,keyasint" json:"file_hash"`
	TxID         string            `cbor:"2,keyasint,omitempty" json:"tx_id,omitempty"`
	State        TxState           `cbor:"3,keyasint" json:"state"`
	AttemptCount uint32            `cbor:"4,keyasint" json:"attempt_count"`
	LastError    bridge.ErrorCode  `cbor:"5,keyasint" json:"last_error"`
	Metadata     map[string]string `cbor:"6,keyasint,omitempty" json:"metadata,omitempty"`
	BlockID      string            `cbor:"7,keyasint,omitempty" json:"block_id,omitempty"`
	BlockHeight  uint64            `cbor:"8,keyasint,omitempty" json:"block_height,omitempty"`
	ConfirmedAt  time.Time         `cbor:"9,keyasint" json:"confirmed_at,omitzero"`
	CreatedAt    time.Time         `cbor:"10,keyasint" json:"created_at"`
	UpdatedAt    time.Time         `cbor:"11,keyasint" json:"updated_at"`
	// NextRetryAt is zero until a retry has been scheduled.
	NextRetryAt time.Time `cbor:"12,keyasint" json:"next_retry_at,omitzero"`
}

// Due reports whether a Pending entry may be submitted at now.
func (e Entry) Due(now time.Time) bool {
	return e.State == Pending && (e.NextRetryAt.IsZero() || !e.NextRetryAt.After(now))
}

// newEntry builds the initial Pending entry for hash.
func newEntry(hash hasher.Digest, metadata map[string]string, now time.Time) Entry {
	return Entry{
		FileHash:  hash,
		State:     Pending,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// supersede resets a Failed or Rejected entry so anchoring can start over.
func supersede(old Entry, metadata map[string]string, now time.Time) Entry {
	e := newEntry(old.FileHash, metadata, now)
	e.CreatedAt = old.CreatedAt
	return e
}

// enqueueDecision returns the entry to persist and whether it changed.
// Existing Pending, Submitted and Confirmed entries are kept as they are.
func enqueueDecision(existing *Entry, hash hasher.Digest, metadata map[string]string, now time.Time) (Entry, bool) {
	if existing == nil {
		return newEntry(hash, metadata, now), true
	}
	if existing.State == Failed || existing.State == Rejected {
		return supersede(*existing, metadata, now), true
	}
	return *existing, false
}

// checkTransition validates a compare-and-set from the expected state.
func checkTransition(current Entry, from TxState, next Entry) error {
	if current.State != from {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStateConflict, current.FileHash, current.State, from)
	}
	if !CanTransition(from, next.State) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next.State)
	}
	if !current.FileHash.Equal(next.FileHash) {
		return fmt.Errorf("%w: file hash changed", ErrIllegalTransition)
	}
	return nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
