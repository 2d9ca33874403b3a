package spv

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/util"
)

// maxProofTxs bounds the transaction count a CMerkleBlock may claim.
const maxProofTxs = 1 << 28

// DoubleHash computes SHA256(SHA256(data)).
func DoubleHash(data []byte) chainhash.Hash {
	first := sha256.Sum256(data)
	return chainhash.Hash(sha256.Sum256(first[:]))
}

func parent(left, right chainhash.Hash) chainhash.Hash {
	var buf [2 * chainhash.HashSize]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return DoubleHash(buf[:])
}

// MerkleRoot computes the root over txids, duplicating the last node of
// every odd level.
func MerkleRoot(txids []chainhash.Hash) chainhash.Hash {
	if len(txids) == 0 {
		return chainhash.Hash{}
	}
	level := append([]chainhash.Hash(nil), txids...)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			next[i] = parent(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// MerkleBlock is a decoded CMerkleBlock: a header and the partial merkle
// tree proving a subset of its transactions.
type MerkleBlock struct {
	Header *BlockHeader
	// Total is the number of transactions in the block.
	Total uint32
	// Root is the root recomputed from the partial tree.
	Root chainhash.Hash
	// Matched are the proven txids in internal byte order, with their
	// positions in the block.
	Matched []chainhash.Hash
	Indexes []uint32
}

func treeWidth(total uint32, height uint) uint32 {
	return uint32((uint64(total) + (1 << height) - 1) >> height)
}

func treeHeight(total uint32) uint {
	var h uint
	for treeWidth(total, h) > 1 {
		h++
	}
	return h
}

// ParseMerkleBlock decodes the output of gettxoutproof and recomputes the
// root of its partial tree.
func ParseMerkleBlock(data []byte) (*MerkleBlock, error) {
	if len(data) < BlockHeaderSize+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidMerkleBlock, len(data))
	}
	header, err := ParseHeader(data[:BlockHeaderSize])
	if err != nil {
		return nil, err
	}
	r := util.NewReaderHoldError(data[BlockHeaderSize:])
	remaining := func() uint64 { return uint64(len(r.Reader.Data) - r.Reader.Pos) }

	var total uint32
	if b := r.ReadBytes(4); r.Err == nil {
		total = binary.LittleEndian.Uint32(b)
	}
	nHashes := r.ReadVarInt()
	if r.Err == nil && nHashes > remaining()/chainhash.HashSize {
		return nil, fmt.Errorf("%w: %d hashes exceed payload", ErrInvalidMerkleBlock, nHashes)
	}
	hashes := make([]chainhash.Hash, nHashes)
	for i := range hashes {
		copy(hashes[i][:], r.ReadBytes(chainhash.HashSize))
	}
	nFlags := r.ReadVarInt()
	if r.Err == nil && nFlags > remaining() {
		return nil, fmt.Errorf("%w: %d flag bytes exceed payload", ErrInvalidMerkleBlock, nFlags)
	}
	flags := r.ReadBytes(int(nFlags))
	r.CheckComplete()
	if r.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMerkleBlock, r.Err)
	}

	switch {
	case total == 0 || total > maxProofTxs:
		return nil, fmt.Errorf("%w: %d transactions", ErrInvalidMerkleBlock, total)
	case uint64(len(hashes)) > uint64(total):
		return nil, fmt.Errorf("%w: more hashes than transactions", ErrInvalidMerkleBlock)
	case len(flags)*8 < len(hashes):
		return nil, fmt.Errorf("%w: fewer flag bits than hashes", ErrInvalidMerkleBlock)
	}

	t := &partialTree{total: total, hashes: hashes, flags: flags}
	root, err := t.extract(treeHeight(total), 0)
	if err != nil {
		return nil, err
	}
	if t.hashUsed != len(hashes) || (t.bitsUsed+7)/8 != len(flags) {
		return nil, fmt.Errorf("%w: unused hashes or flags", ErrInvalidMerkleBlock)
	}
	return &MerkleBlock{
		Header:  header,
		Total:   total,
		Root:    root,
		Matched: t.matched,
		Indexes: t.indexes,
	}, nil
}

type partialTree struct {
	total    uint32
	hashes   []chainhash.Hash
	flags    []byte
	bitsUsed int
	hashUsed int
	matched  []chainhash.Hash
	indexes  []uint32
}

func (t *partialTree) extract(height uint, pos uint32) (chainhash.Hash, error) {
	if t.bitsUsed >= len(t.flags)*8 {
		return chainhash.Hash{}, fmt.Errorf("%w: ran out of flag bits", ErrInvalidMerkleBlock)
	}
	flag := t.flags[t.bitsUsed/8]>>(t.bitsUsed%8)&1 == 1
	t.bitsUsed++

	if height == 0 || !flag {
		if t.hashUsed >= len(t.hashes) {
			return chainhash.Hash{}, fmt.Errorf("%w: ran out of hashes", ErrInvalidMerkleBlock)
		}
		h := t.hashes[t.hashUsed]
		t.hashUsed++
		if height == 0 && flag {
			t.matched = append(t.matched, h)
			t.indexes = append(t.indexes, pos)
		}
		return h, nil
	}

	left, err := t.extract(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < treeWidth(t.total, height-1) {
		if right, err = t.extract(height-1, pos*2+1); err != nil {
			return chainhash.Hash{}, err
		}
		// CVE-2012-2459: a real tree never has identical siblings.
		if right == left {
			return chainhash.Hash{}, fmt.Errorf("%w: duplicate sibling hashes", ErrInvalidMerkleBlock)
		}
	}
	return parent(left, right), nil
}

// BuildMerkleBlock encodes a CMerkleBlock for header proving the txids at
// the positions in match.
func BuildMerkleBlock(header *BlockHeader, txids []chainhash.Hash, match ...int) []byte {
	matched := make([]bool, len(txids))
	for _, i := range match {
		if i >= 0 && i < len(txids) {
			matched[i] = true
		}
	}
	b := &treeBuilder{txids: txids, matched: matched, total: uint32(len(txids))}
	if len(txids) > 0 {
		b.build(treeHeight(b.total), 0)
	}

	w := util.NewWriter()
	w.WriteBytes(header.Bytes())
	w.WriteBytes(binary.LittleEndian.AppendUint32(nil, b.total))
	w.WriteVarInt(uint64(len(b.hashes)))
	for _, h := range b.hashes {
		w.WriteBytes(h[:])
	}
	flags := make([]byte, (len(b.bits)+7)/8)
	for i, bit := range b.bits {
		if bit {
			flags[i/8] |= 1 << (i % 8)
		}
	}
	w.WriteIntBytes(flags)
	return w.Buf
}

type treeBuilder struct {
	txids   []chainhash.Hash
	matched []bool
	total   uint32
	bits    []bool
	hashes  []chainhash.Hash
}

func (b *treeBuilder) hash(height uint, pos uint32) chainhash.Hash {
	if height == 0 {
		return b.txids[pos]
	}
	left := b.hash(height-1, pos*2)
	right := left
	if pos*2+1 < treeWidth(b.total, height-1) {
		right = b.hash(height-1, pos*2+1)
	}
	return parent(left, right)
}

func (b *treeBuilder) build(height uint, pos uint32) {
	var parentOfMatch bool
	for p := pos << height; p < (pos+1)<<height && p < b.total; p++ {
		parentOfMatch = parentOfMatch || b.matched[p]
	}
	b.bits = append(b.bits, parentOfMatch)
	if height == 0 || !parentOfMatch {
		b.hashes = append(b.hashes, b.hash(height, pos))
		return
	}
	b.build(height-1, pos*2)
	if pos*2+1 < treeWidth(b.total, height-1) {
		b.build(height-1, pos*2+1)
	}
}
