package spv

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// BlockHeaderSize is the size of a serialized block header in bytes.
const BlockHeaderSize = 80

// Easiest compact targets accepted per network.
const (
	MainnetMinBits uint32 = 0x1d00ffff
	TestnetMinBits uint32 = 0x1d00ffff
	RegtestMinBits uint32 = 0x207fffff
)

// BlockHeader is a decoded 80-byte block header. Hashes are in internal
// byte order.
type BlockHeader struct {
	Version    int32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// ParseHeader decodes an 80-byte header.
func ParseHeader(data []byte) (*BlockHeader, error) {
	if len(data) != BlockHeaderSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHeader, BlockHeaderSize, len(data))
	}
	h := &BlockHeader{
		Version:   int32(binary.LittleEndian.Uint32(data[0:4])),
		Timestamp: binary.LittleEndian.Uint32(data[68:72]),
		Bits:      binary.LittleEndian.Uint32(data[72:76]),
		Nonce:     binary.LittleEndian.Uint32(data[76:80]),
	}
	copy(h.PrevBlock[:], data[4:36])
	copy(h.MerkleRoot[:], data[36:68])
	return h, nil
}

// Bytes serializes h in wire format.
func (h *BlockHeader) Bytes() []byte {
	buf := make([]byte, BlockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// Hash returns the double-SHA256 of the serialized header.
func (h *BlockHeader) Hash() chainhash.Hash {
	return DoubleHash(h.Bytes())
}

// CompactToBig expands a compact (nBits) target. A set sign bit yields zero.
func CompactToBig(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := int64(bits & 0x007fffff)
	if bits&0x00800000 != 0 {
		mantissa = 0
	}
	target := big.NewInt(mantissa)
	if exponent <= 3 {
		return target.Rsh(target, uint(8*(3-exponent)))
	}
	return target.Lsh(target, uint(8*(exponent-3)))
}

// hashToBig interprets an internal-order hash as a little-endian integer.
func hashToBig(h chainhash.Hash) *big.Int {
	var be [chainhash.HashSize]byte
	for i := range h {
		be[chainhash.HashSize-1-i] = h[i]
	}
	return new(big.Int).SetBytes(be[:])
}

// MinBitsForNetwork returns the easiest target allowed on network.
func MinBitsForNetwork(network string) uint32 {
	switch network {
	case "mainnet":
		return MainnetMinBits
	case "testnet":
		return TestnetMinBits
	}
	return RegtestMinBits
}

// VerifyPoW checks that the header hash meets its own target and that the
// target is no easier than network allows.
func VerifyPoW(h *BlockHeader, network string) error {
	target := CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return fmt.Errorf("%w: bits 0x%08x", ErrInsufficientPoW, h.Bits)
	}
	if target.Cmp(CompactToBig(MinBitsForNetwork(network))) > 0 {
		return fmt.Errorf("%w: bits 0x%08x easier than %s minimum", ErrInsufficientPoW, h.Bits, network)
	}
	if hashToBig(h.Hash()).Cmp(target) > 0 {
		return fmt.Errorf("%w: hash exceeds target", ErrInsufficientPoW)
	}
	return nil
}
