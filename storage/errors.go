package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no content exists for the given digest.
	ErrNotFound = errors.New("storage: content not found")

	// ErrChunkCorrupted indicates a stored chunk is missing or fails verification.
	ErrChunkCorrupted = errors.New("storage: chunk corrupted")

	// ErrCorrupted indicates reassembled content does not match its digest.
	ErrCorrupted = errors.New("storage: content hash mismatch")

	// ErrInvalidChunkSize indicates the chunk size is zero.
	ErrInvalidChunkSize = errors.New("storage: chunk size must be positive")

	// ErrUnsupportedCompression indicates an unsupported compression scheme.
	ErrUnsupportedCompression = errors.New("storage: unsupported compression scheme")

	// ErrDecompressedTooLarge indicates decompressed data exceeds its recorded size.
	ErrDecompressedTooLarge = errors.New("storage: decompressed data exceeds recorded size")

	// ErrPayloadTooLarge indicates a streamed payload exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("storage: payload exceeds maximum size")

	// ErrInvalidManifest indicates chunk references are not contiguous or do not
	// match the chunks supplied.
	ErrInvalidManifest = errors.New("storage: invalid chunk manifest")
)

// ChunkCorruptedError names the chunk that failed verification.
type ChunkCorruptedError struct {
	Index  uint32
	Reason string
}

func (e *ChunkCorruptedError) Error() string {
	return fmt.Sprintf("%v: chunk=%d (%s)", ErrChunkCorrupted, e.Index, e.Reason)
}

// Unwrap lets errors.Is match ErrChunkCorrupted.
func (e *ChunkCorruptedError) Unwrap() error { return ErrChunkCorrupted }

func chunkCorrupted(index uint32, reason string) error {
	return &ChunkCorruptedError{Index: index, Reason: reason}
}
