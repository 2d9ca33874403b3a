package storage

import (
	"bytes"
	"testing"

	"github.com/bitfsorg/anchorstore/hasher"
)

// FuzzSplitJoinRoundTrip checks Join(Split(p, n)) == p and the chunk count law.
func FuzzSplitJoinRoundTrip(f *testing.F) {
	f.Add([]byte("hello world"), uint16(3))
	f.Add(bytes.Repeat([]byte{0x00}, 1024), uint16(1024))
	f.Add([]byte{0x01}, uint16(1))

	f.Fuzz(func(t *testing.T, payload []byte, n uint16) {
		if n == 0 || len(payload) == 0 {
			return
		}
		chunks, err := Split(payload, uint64(n), hasher.BLAKE3)
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if uint64(len(chunks)) != ChunkCount(uint64(len(payload)), uint64(n)) {
			t.Fatalf("got %d chunks for %d bytes / %d", len(chunks), len(payload), n)
		}
		raw := make([][]byte, len(chunks))
		refs := make([]ChunkRef, len(chunks))
		for i, c := range chunks {
			if c.Ref.Index != uint32(i) {
				t.Fatalf("chunk %d has index %d", i, c.Ref.Index)
			}
			raw[i], refs[i] = c.Data, c.Ref
		}
		out, err := Join(raw, refs)
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatal("round trip mismatch")
		}
	})
}

// FuzzDecodeFrameNoPanic ensures arbitrary stored bytes never panic the reader.
func FuzzDecodeFrameNoPanic(f *testing.F) {
	f.Add([]byte{byte(CompressZstd), 0x28, 0xb5, 0x2f, 0xfd}, uint16(16))
	f.Add([]byte{byte(CompressLZ4), 0xff}, uint16(8))
	f.Add([]byte{byte(CompressGZIP)}, uint16(0))

	f.Fuzz(func(t *testing.T, frame []byte, size uint16) {
		decodeFrame(frame, uint64(size))
	})
}
