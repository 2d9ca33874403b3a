// Package wallet holds the funding key that pays for anchoring transactions.
// The key is derived from a BIP39 mnemonic along m/44'/236'/0'/0/index, and
// the seed is kept on disk encrypted with Argon2id and AES-256-GCM.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"
)

const (
	// Mnemonic entropy sizes.
	Mnemonic12Words = 128
	Mnemonic24Words = 256

	saltLen     = 16
	checksumLen = 4
	keyLen      = 32

	// maxKDFMemoryKiB caps the Argon2 memory a key file may ask for.
	maxKDFMemoryKiB = 4 << 20
)

// KDFParams are the Argon2id cost parameters recorded with each sealed seed.
type KDFParams struct {
	Time      uint32 `cbor:"1,keyasint"`
	MemoryKiB uint32 `cbor:"2,keyasint"`
	Threads   uint8  `cbor:"3,keyasint"`
}

// DefaultKDF is used for new key files.
var DefaultKDF = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// GenerateMnemonic creates a BIP39 mnemonic from entropyBits of randomness.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("wallet: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic derives the 64-byte BIP39 seed. An empty passphrase still
// participates in the derivation.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive seed: %w", err)
	}
	return seed, nil
}

// sealedSeed is the encrypted form of a seed. Plaintext is seed followed by
// the first four bytes of SHA256(seed).
type sealedSeed struct {
	KDF        KDFParams `cbor:"1,keyasint"`
	Salt       []byte    `cbor:"2,keyasint"`
	Nonce      []byte    `cbor:"3,keyasint"`
	Ciphertext []byte    `cbor:"4,keyasint"`
}

func deriveKey(passphrase string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads, keyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func sealSeed(seed []byte, passphrase string, p KDFParams) (*sealedSeed, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: generate salt: %w", err)
	}
	gcm, err := newGCM(deriveKey(passphrase, salt, p))
	if err != nil {
		return nil, fmt.Errorf("wallet: cipher: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: generate nonce: %w", err)
	}

	sum := sha256.Sum256(seed)
	plaintext := append(append([]byte(nil), seed...), sum[:checksumLen]...)
	return &sealedSeed{
		KDF:        p,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func (s *sealedSeed) open(passphrase string) ([]byte, error) {
	if len(s.Salt) != saltLen || s.KDF.Time == 0 || s.KDF.Threads == 0 || s.KDF.MemoryKiB > maxKDFMemoryKiB {
		return nil, ErrDecryptionFailed
	}
	gcm, err := newGCM(deriveKey(passphrase, s.Salt, s.KDF))
	if err != nil || len(s.Nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil || len(plaintext) <= checksumLen {
		return nil, ErrDecryptionFailed
	}

	seed := plaintext[:len(plaintext)-checksumLen]
	sum := sha256.Sum256(seed)
	if subtle.ConstantTimeCompare(sum[:checksumLen], plaintext[len(seed):]) != 1 {
		return nil, ErrChecksumMismatch
	}
	return seed, nil
}
