// Package hasher computes algorithm-tagged content digests.
//
// Every digest carries the algorithm that produced it. Two digests are equal
// only if both the algorithm and the bytes match, so the same payload hashed
// under two algorithms yields two distinct identities.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a digest function. The zero value is invalid so that an
// unset field is never silently treated as a real algorithm.
type Algorithm uint8

const (
	// BLAKE3 is the primary algorithm (32-byte output).
	BLAKE3 Algorithm = iota + 1
	// BLAKE2b512 is BLAKE2b with a 64-byte output.
	BLAKE2b512
	// Keccak256 is the pre-standard Keccak used by Ethereum (32-byte output).
	Keccak256
	// SHA256 is FIPS 180-4 SHA-256.
	SHA256
)

// Default is the algorithm used when none is configured.
const Default = BLAKE3

var algorithmNames = map[Algorithm]string{
	BLAKE3:     "blake3",
	BLAKE2b512: "blake2b",
	Keccak256:  "keccak256",
	SHA256:     "sha256",
}

var algorithmSizes = map[Algorithm]int{
	BLAKE3:     32,
	BLAKE2b512: 64,
	Keccak256:  32,
	SHA256:     32,
}

// Algorithms returns every supported algorithm, primary first.
func Algorithms() []Algorithm {
	return []Algorithm{BLAKE3, BLAKE2b512, Keccak256, SHA256}
}

// String returns the lowercase algorithm name.
func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	_, ok := algorithmNames[a]
	return ok
}

// Size returns the digest length in bytes, or 0 for an unsupported algorithm.
func (a Algorithm) Size() int {
	return algorithmSizes[a]
}

// ParseAlgorithm parses an algorithm name as returned by String.
// "blake2b512" and "keccak" are accepted as aliases.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "blake3", "":
		return BLAKE3, nil
	case "blake2b", "blake2b512":
		return BLAKE2b512, nil
	case "keccak256", "keccak":
		return Keccak256, nil
	case "sha256":
		return SHA256, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// New returns a fresh streaming hash for alg.
func New(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case BLAKE3:
		return blake3.New(), nil
	case BLAKE2b512:
		return blake2b.New512(nil)
	case Keccak256:
		return sha3.NewLegacyKeccak256(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, uint8(alg))
	}
}

// Sum computes the digest of payload under alg. It allocates a new hash state
// per call and is safe for concurrent use.
func Sum(payload []byte, alg Algorithm) (Digest, error) {
	h, err := New(alg)
	if err != nil {
		return Digest{}, err
	}
	h.Write(payload)
	return Digest{Algorithm: alg, Sum: h.Sum(nil)}, nil
}

// Digest is a hash output tagged with the algorithm that produced it.
type Digest struct {
	Algorithm Algorithm `cbor:"1,keyasint" json:"algorithm"`
	Sum       []byte    `cbor:"2,keyasint" json:"sum"`
}

// IsZero reports whether d holds no digest.
func (d Digest) IsZero() bool {
	return d.Algorithm == 0 && len(d.Sum) == 0
}

// Equal reports whether d and other name the same algorithm and bytes.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Sum, other.Sum)
}

// Hex returns the hex encoding of the digest bytes without the algorithm tag.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Sum)
}

// String returns "<algorithm>:<hex>".
func (d Digest) String() string {
	return d.Algorithm.String() + ":" + d.Hex()
}

// Key returns the binary storage key: one algorithm byte followed by the sum.
func (d Digest) Key() []byte {
	k := make([]byte, 1+len(d.Sum))
	k[0] = byte(d.Algorithm)
	copy(k[1:], d.Sum)
	return k
}

// Validate checks that the algorithm is supported and the sum has its length.
func (d Digest) Validate() error {
	if !d.Algorithm.Valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, uint8(d.Algorithm))
	}
	if len(d.Sum) != d.Algorithm.Size() {
		return fmt.Errorf("%w: %s digest must be %d bytes, got %d",
			ErrInvalidDigest, d.Algorithm, d.Algorithm.Size(), len(d.Sum))
	}
	return nil
}

// DigestFromKey decodes a key produced by Digest.Key.
func DigestFromKey(key []byte) (Digest, error) {
	if len(key) < 1 {
		return Digest{}, fmt.Errorf("%w: empty key", ErrInvalidDigest)
	}
	d := Digest{Algorithm: Algorithm(key[0]), Sum: append([]byte(nil), key[1:]...)}
	if err := d.Validate(); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// ParseDigest parses "<algorithm>:<hex>". A bare hex string is read as the
// default algorithm.
func ParseDigest(s string) (Digest, error) {
	algName, hexSum, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		hexSum = algName
		algName = Default.String()
	}
	alg, err := ParseAlgorithm(algName)
	if err != nil {
		return Digest{}, err
	}
	sum, err := hex.DecodeString(hexSum)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	d := Digest{Algorithm: alg, Sum: sum}
	if err := d.Validate(); err != nil {
		return Digest{}, err
	}
	return d, nil
}
