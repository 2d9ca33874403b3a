package storage

import (
	"bytes"
	"fmt"

	"github.com/bitfsorg/anchorstore/hasher"
)

// DefaultChunkSize is the default chunk size for content splitting (1MB).
const DefaultChunkSize = 1 << 20

// ChunkRef describes one chunk of a chunked record. Index defines reassembly
// order and is contiguous from 0.
type ChunkRef struct {
	Index uint32        `cbor:"1,keyasint" json:"index"`
	Hash  hasher.Digest `cbor:"2,keyasint" json:"hash"`
	Size  uint64        `cbor:"3,keyasint" json:"size"`
}

// Chunk pairs chunk bytes with their reference.
type Chunk struct {
	Data []byte
	Ref  ChunkRef
}

// Split cuts payload into fixed-size chunks. Chunk i covers bytes
// [i*chunkSize, min((i+1)*chunkSize, len(payload))). Each chunk is hashed
// independently under alg. An empty payload yields no chunks.
func Split(payload []byte, chunkSize uint64, alg hasher.Algorithm) ([]Chunk, error) {
	if chunkSize == 0 {
		return nil, ErrInvalidChunkSize
	}
	total := uint64(len(payload))
	if total == 0 {
		return nil, nil
	}

	chunks := make([]Chunk, 0, ChunkCount(total, chunkSize))
	for off, idx := uint64(0), uint32(0); off < total; idx++ {
		end := off + chunkSize
		if end > total || end < off {
			end = total
		}
		data := make([]byte, end-off)
		copy(data, payload[off:end])

		d, err := hasher.Sum(data, alg)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{
			Data: data,
			Ref:  ChunkRef{Index: idx, Hash: d, Size: uint64(len(data))},
		})
		off = end
	}
	return chunks, nil
}

// VerifyChunk checks data against ref's size and digest.
func VerifyChunk(data []byte, ref ChunkRef) error {
	if uint64(len(data)) != ref.Size {
		return chunkCorrupted(ref.Index, fmt.Sprintf("size %d, want %d", len(data), ref.Size))
	}
	d, err := hasher.Sum(data, ref.Hash.Algorithm)
	if err != nil {
		return err
	}
	if !d.Equal(ref.Hash) {
		return chunkCorrupted(ref.Index, "hash mismatch")
	}
	return nil
}

// Join verifies every chunk against its reference and concatenates them in
// index order. It returns a *ChunkCorruptedError naming the first bad chunk
// and never returns partial data.
func Join(chunks [][]byte, refs []ChunkRef) ([]byte, error) {
	if len(chunks) != len(refs) {
		return nil, fmt.Errorf("%w: %d chunks for %d refs", ErrInvalidManifest, len(chunks), len(refs))
	}

	var size uint64
	for i, ref := range refs {
		if ref.Index != uint32(i) {
			return nil, fmt.Errorf("%w: ref %d has index %d", ErrInvalidManifest, i, ref.Index)
		}
		if err := VerifyChunk(chunks[i], ref); err != nil {
			return nil, err
		}
		size += ref.Size
	}

	var buf bytes.Buffer
	buf.Grow(int(size))
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

// ChunkCount returns ceil(size/chunkSize).
func ChunkCount(size, chunkSize uint64) uint64 {
	if chunkSize == 0 {
		return 0
	}
	return size/chunkSize + boolToUint(size%chunkSize != 0)
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
