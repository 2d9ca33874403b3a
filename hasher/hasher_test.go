package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		alg  Algorithm
		want string
	}{
		{"blake3 empty", BLAKE3, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"},
		{"sha256 empty", SHA256, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"keccak256 empty", Keccak256, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Sum(nil, tt.alg)
			require.NoError(t, err)
			assert.Equal(t, tt.alg, d.Algorithm)
			assert.Equal(t, tt.want, d.Hex())
		})
	}
}

func TestSum_Sizes(t *testing.T) {
	for _, alg := range Algorithms() {
		t.Run(alg.String(), func(t *testing.T) {
			d, err := Sum([]byte("payload"), alg)
			require.NoError(t, err)
			assert.Len(t, d.Sum, alg.Size())
			assert.NoError(t, d.Validate())
		})
	}
}

func TestSum_Deterministic(t *testing.T) {
	payload := []byte("the same bytes every time")
	for _, alg := range Algorithms() {
		a, err := Sum(payload, alg)
		require.NoError(t, err)
		b, err := Sum(payload, alg)
		require.NoError(t, err)
		assert.True(t, a.Equal(b), alg.String())
	}
}

func TestSum_UnsupportedAlgorithm(t *testing.T) {
	_, err := Sum([]byte("x"), Algorithm(0))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Sum([]byte("x"), Algorithm(99))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestSum_Concurrent(t *testing.T) {
	payload := []byte("concurrent payload")
	want := sha256.Sum256(payload)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := Sum(payload, SHA256)
			if err != nil || hex.EncodeToString(d.Sum) != hex.EncodeToString(want[:]) {
				errs <- "mismatch"
			}
		}()
	}
	wg.Wait()
	close(errs)
	assert.Empty(t, errs)
}

func TestDigest_EqualIsAlgorithmScoped(t *testing.T) {
	sum := make([]byte, 32)
	a := Digest{Algorithm: BLAKE3, Sum: sum}
	b := Digest{Algorithm: SHA256, Sum: sum}
	c := Digest{Algorithm: BLAKE3, Sum: append([]byte(nil), sum...)}

	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(c))
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestParseDigest(t *testing.T) {
	d, err := Sum([]byte("abc"), Keccak256)
	require.NoError(t, err)

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.True(t, d.Equal(parsed))

	bare, err := Sum([]byte("abc"), Default)
	require.NoError(t, err)
	parsed, err = ParseDigest(bare.Hex())
	require.NoError(t, err)
	assert.True(t, bare.Equal(parsed))
}

func TestParseDigest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"unknown algorithm", "md5:00", ErrUnsupportedAlgorithm},
		{"bad hex", "sha256:zz", ErrInvalidDigest},
		{"wrong length", "sha256:abcd", ErrInvalidDigest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDigest(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDigestFromKey(t *testing.T) {
	d, err := Sum([]byte("key me"), BLAKE2b512)
	require.NoError(t, err)

	back, err := DigestFromKey(d.Key())
	require.NoError(t, err)
	assert.True(t, d.Equal(back))

	_, err = DigestFromKey(nil)
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"blake3", BLAKE3},
		{"BLAKE2b", BLAKE2b512},
		{"blake2b512", BLAKE2b512},
		{"keccak", Keccak256},
		{"sha256", SHA256},
		{"", BLAKE3},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlgorithm_TextRoundTrip(t *testing.T) {
	for _, alg := range Algorithms() {
		text, err := alg.MarshalText()
		require.NoError(t, err)
		var back Algorithm
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, alg, back)
	}
	_, err := Algorithm(0).MarshalText()
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
