package chain

import "errors"

var (
	// ErrInvalidKey indicates the signing key is missing or malformed.
	ErrInvalidKey = errors.New("chain: invalid signing key")

	// ErrNoFunds indicates the funding address has no spendable outputs.
	ErrNoFunds = errors.New("chain: no spendable outputs")

	// ErrAnchorMismatch indicates the anchor transaction commits to a
	// different digest.
	ErrAnchorMismatch = errors.New("chain: anchor does not match digest")
)
