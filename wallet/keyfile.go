package wallet

import (
	"fmt"
	"os"
	"time"

	"github.com/bitfsorg/anchorstore/codec"
)

const keyFileVersion = 1

// KeyFile is the on-disk form of the funding wallet.
type KeyFile struct {
	Version   int        `cbor:"1,keyasint"`
	Network   string     `cbor:"2,keyasint"`
	Seed      sealedSeed `cbor:"3,keyasint"`
	CreatedAt time.Time  `cbor:"4,keyasint"`
}

// NewKeyFile seals the seed of mnemonic under passphrase.
func NewKeyFile(mnemonic, passphrase, network string, now time.Time) (*KeyFile, error) {
	return newKeyFile(mnemonic, passphrase, network, now, DefaultKDF)
}

func newKeyFile(mnemonic, passphrase, network string, now time.Time, kdf KDFParams) (*KeyFile, error) {
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	sealed, err := sealSeed(seed, passphrase, kdf)
	if err != nil {
		return nil, err
	}
	return &KeyFile{
		Version:   keyFileVersion,
		Network:   network,
		Seed:      *sealed,
		CreatedAt: codec.UTC(now),
	}, nil
}

// Wallet decrypts the seed and returns the wallet for the key file's network.
func (k *KeyFile) Wallet(passphrase string) (*Wallet, error) {
	seed, err := k.Seed.open(passphrase)
	if err != nil {
		return nil, err
	}
	return NewWallet(seed, k.Network == "mainnet")
}

// ParseKeyFile decodes a key file.
func ParseKeyFile(data []byte) (*KeyFile, error) {
	var k KeyFile
	if err := codec.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyFile, err)
	}
	if k.Version != keyFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidKeyFile, k.Version)
	}
	return &k, nil
}

// ReadKeyFile loads the key file at path and checks it belongs to network.
func ReadKeyFile(path, network string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	k, err := ParseKeyFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if k.Network != network {
		return nil, fmt.Errorf("%w: %s was created for %s, config says %s", ErrNetworkMismatch, path, k.Network, network)
	}
	return k, nil
}

// WriteKeyFile creates path with mode 0600. An existing file is never
// replaced; the error then matches fs.ErrExist.
func WriteKeyFile(path string, k *KeyFile) error {
	data, err := codec.Marshal(k)
	if err != nil {
		return fmt.Errorf("wallet: encode key file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("wallet: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("wallet: write key file: %w", err)
	}
	return nil
}
