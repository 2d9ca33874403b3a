package spv

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// Proof is a verified inclusion of one transaction in a block.
type Proof struct {
	TxID      chainhash.Hash
	BlockHash chainhash.Hash
	Index     uint32
	Header    *BlockHeader
}

// VerifyInclusion checks that mb proves txid is in block blockHash on
// network: the header meets its proof of work, it hashes to blockHash, and
// the partial tree commits to its merkle root and contains txid.
func VerifyInclusion(mb *MerkleBlock, txid, blockHash chainhash.Hash, network string) (*Proof, error) {
	if err := VerifyPoW(mb.Header, network); err != nil {
		return nil, err
	}
	if got := mb.Header.Hash(); got != blockHash {
		return nil, fmt.Errorf("%w: header hashes to %s, want %s", ErrBlockMismatch, got, blockHash)
	}
	if mb.Root != mb.Header.MerkleRoot {
		return nil, fmt.Errorf("%w: root %s, header commits to %s", ErrMerkleProofInvalid, mb.Root, mb.Header.MerkleRoot)
	}
	for i, m := range mb.Matched {
		if m == txid {
			return &Proof{TxID: txid, BlockHash: blockHash, Index: mb.Indexes[i], Header: mb.Header}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTxNotIncluded, txid)
}
