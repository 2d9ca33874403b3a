package tx

import "errors"

// Sentinel errors returned by the transaction builders. Callers match them
// with errors.Is; the wrapped message names the offending field.
var (
	ErrNilParam          = errors.New("tx: missing argument")
	ErrInsufficientFunds = errors.New("tx: insufficient funds for fee")
	// ErrInvalidPayload rejects a digest or metadata map that cannot be
	// carried in an anchor output.
	ErrInvalidPayload = errors.New("tx: unusable anchor payload")
	ErrSigningFailed  = errors.New("tx: signing failed")
	ErrScriptBuild    = errors.New("tx: cannot build script")

	// ErrInvalidOPReturn and ErrNotAnchorTx come from ParseAnchorOutput.
	// The first means a malformed data output, the second a well-formed
	// output without the anchor prefix.
	ErrInvalidOPReturn = errors.New("tx: malformed OP_RETURN output")
	ErrNotAnchorTx     = errors.New("tx: output is not an anchor")
)
