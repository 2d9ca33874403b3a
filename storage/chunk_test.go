package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/anchorstore/hasher"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		dataSize   int
		chunkSize  uint64
		wantChunks int
	}{
		{"single chunk", 100, 1024, 1},
		{"exact multiple", 3000, 1000, 3},
		{"non-exact", 2500, 1000, 3},
		{"chunk size 1", 5, 1, 5},
		{"data equals chunk", 1000, 1000, 1},
		{"chunk larger than max int", 10, ^uint64(0), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{0xAB}, tt.dataSize)
			chunks, err := Split(data, tt.chunkSize, hasher.BLAKE3)
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantChunks)
			assert.Equal(t, uint64(tt.wantChunks), ChunkCount(uint64(tt.dataSize), tt.chunkSize))

			var combined []byte
			for i, c := range chunks {
				assert.Equal(t, uint32(i), c.Ref.Index)
				assert.Equal(t, uint64(len(c.Data)), c.Ref.Size)
				combined = append(combined, c.Data...)
			}
			assert.Equal(t, data, combined)
		})
	}
}

func TestSplit_Boundaries(t *testing.T) {
	data := []byte("0123456789")
	chunks, err := Split(data, 4, hasher.SHA256)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("0123"), chunks[0].Data)
	assert.Equal(t, []byte("4567"), chunks[1].Data)
	assert.Equal(t, []byte("89"), chunks[2].Data)

	want, err := hasher.Sum([]byte("4567"), hasher.SHA256)
	require.NoError(t, err)
	assert.True(t, want.Equal(chunks[1].Ref.Hash))
}

func TestSplit_EmptyData(t *testing.T) {
	chunks, err := Split(nil, 1024, hasher.BLAKE3)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidChunkSize(t *testing.T) {
	_, err := Split([]byte("test data"), 0, hasher.BLAKE3)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestSplit_UnsupportedAlgorithm(t *testing.T) {
	_, err := Split([]byte("test data"), 4, hasher.Algorithm(42))
	assert.ErrorIs(t, err, hasher.ErrUnsupportedAlgorithm)
}

func splitForJoin(t *testing.T, data []byte, n uint64) ([][]byte, []ChunkRef) {
	t.Helper()
	chunks, err := Split(data, n, hasher.BLAKE3)
	require.NoError(t, err)
	raw := make([][]byte, len(chunks))
	refs := make([]ChunkRef, len(chunks))
	for i, c := range chunks {
		raw[i] = c.Data
		refs[i] = c.Ref
	}
	return raw, refs
}

func TestJoin_RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefg"), 400)
	raw, refs := splitForJoin(t, data, 333)

	out, err := Join(raw, refs)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestJoin_CorruptedChunkNamesIndex(t *testing.T) {
	data := bytes.Repeat([]byte{0x11}, 50)
	raw, refs := splitForJoin(t, data, 10)
	raw[3][0] ^= 0xFF

	out, err := Join(raw, refs)
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrChunkCorrupted)

	var cerr *ChunkCorruptedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint32(3), cerr.Index)
}

func TestJoin_TruncatedChunk(t *testing.T) {
	raw, refs := splitForJoin(t, bytes.Repeat([]byte{0x22}, 30), 10)
	raw[1] = raw[1][:5]

	_, err := Join(raw, refs)
	var cerr *ChunkCorruptedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint32(1), cerr.Index)
}

func TestJoin_ManifestMismatch(t *testing.T) {
	raw, refs := splitForJoin(t, bytes.Repeat([]byte{0x33}, 30), 10)

	_, err := Join(raw[:2], refs)
	assert.ErrorIs(t, err, ErrInvalidManifest)

	refs[0], refs[1] = refs[1], refs[0]
	raw[0], raw[1] = raw[1], raw[0]
	_, err = Join(raw, refs)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestJoin_Empty(t *testing.T) {
	out, err := Join(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
