package spv

import "errors"

var (
	// ErrInvalidHeader indicates a block header that is malformed or fails
	// its proof-of-work check.
	ErrInvalidHeader = errors.New("spv: invalid header")

	// ErrInsufficientPoW indicates the header hash does not meet its target,
	// or the target is easier than the network allows.
	ErrInsufficientPoW = errors.New("spv: insufficient proof of work")

	// ErrInvalidMerkleBlock indicates a CMerkleBlock that cannot be decoded
	// or whose partial tree is inconsistent.
	ErrInvalidMerkleBlock = errors.New("spv: invalid merkle block")

	// ErrMerkleProofInvalid indicates the partial tree does not commit to the
	// header's merkle root.
	ErrMerkleProofInvalid = errors.New("spv: merkle proof invalid")

	// ErrTxNotIncluded indicates the proof does not match the transaction.
	ErrTxNotIncluded = errors.New("spv: transaction not in proof")

	// ErrBlockMismatch indicates the proof is for a different block.
	ErrBlockMismatch = errors.New("spv: proof is for a different block")
)
