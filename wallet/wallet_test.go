package wallet

import (
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fastKDF keeps tests quick; production files use DefaultKDF.
var fastKDF = KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}

func TestGenerateMnemonic(t *testing.T) {
	for _, tc := range []struct {
		bits  int
		words int
	}{{Mnemonic12Words, 12}, {Mnemonic24Words, 24}} {
		m, err := GenerateMnemonic(tc.bits)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(m), tc.words)
		_, err = SeedFromMnemonic(m, "")
		assert.NoError(t, err)
	}

	_, err := GenerateMnemonic(100)
	assert.ErrorIs(t, err, ErrInvalidEntropy)
}

func TestSeedFromMnemonicVector(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "TREZOR")
	require.NoError(t, err)
	assert.Equal(t,
		"c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04",
		hex.EncodeToString(seed))

	_, err = SeedFromMnemonic("abandon abandon abandon", "")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestSealOpenSeed(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	sealed, err := sealSeed(seed, "correct horse", fastKDF)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.Ciphertext), string(seed))

	got, err := sealed.open("correct horse")
	require.NoError(t, err)
	assert.Equal(t, seed, got)

	_, err = sealed.open("wrong")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	tampered := *sealed
	tampered.Ciphertext = append([]byte(nil), sealed.Ciphertext...)
	tampered.Ciphertext[0] ^= 1
	_, err = tampered.open("correct horse")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = sealSeed(nil, "x", fastKDF)
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestFundingKeyDerivation(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	test, err := NewWallet(seed, false)
	require.NoError(t, err)
	main, err := NewWallet(seed, true)
	require.NoError(t, err)

	k0, err := test.FundingKey(0)
	require.NoError(t, err)
	k0again, err := test.FundingKey(0)
	require.NoError(t, err)
	k1, err := test.FundingKey(1)
	require.NoError(t, err)
	k0main, err := main.FundingKey(0)
	require.NoError(t, err)

	assert.Equal(t, k0.PubKey().Compressed(), k0again.PubKey().Compressed())
	assert.NotEqual(t, k0.PubKey().Compressed(), k1.PubKey().Compressed())
	assert.Equal(t, k0.PubKey().Compressed(), k0main.PubKey().Compressed(), "network only changes serialization")

	_, err = test.FundingKey(Hardened)
	assert.ErrorIs(t, err, ErrDerivationFailed)

	_, err = NewWallet(nil, false)
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestFundingPath(t *testing.T) {
	assert.Equal(t, "m/44'/236'/0'/0/7", FundingPath(7))
}

func TestKeyFileRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kf, err := newKeyFile(testMnemonic, "pass", "regtest", now, fastKDF)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "anchor.key")
	require.NoError(t, WriteKeyFile(path, kf))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	err = WriteKeyFile(path, kf)
	assert.ErrorIs(t, err, fs.ErrExist)

	loaded, err := ReadKeyFile(path, "regtest")
	require.NoError(t, err)
	assert.Equal(t, now, loaded.CreatedAt)
	assert.Equal(t, fastKDF, loaded.Seed.KDF)

	w, err := loaded.Wallet("pass")
	require.NoError(t, err)
	key, err := w.FundingKey(0)
	require.NoError(t, err)

	seed, err := SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	direct, err := NewWallet(seed, false)
	require.NoError(t, err)
	want, err := direct.FundingKey(0)
	require.NoError(t, err)
	assert.Equal(t, want.PubKey().Compressed(), key.PubKey().Compressed())

	_, err = loaded.Wallet("nope")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = ReadKeyFile(path, "mainnet")
	assert.ErrorIs(t, err, ErrNetworkMismatch)
}

func TestParseKeyFileRejectsGarbage(t *testing.T) {
	_, err := ParseKeyFile([]byte("not cbor at all"))
	assert.ErrorIs(t, err, ErrInvalidKeyFile)

	_, err = ParseKeyFile([]byte{0xa1, 0x01, 0x09}) // {1: 9}
	assert.ErrorIs(t, err, ErrInvalidKeyFile)
}
