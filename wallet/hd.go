package wallet

import (
	"fmt"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

// BIP44 path constants.
const (
	PurposeBIP44 = 44
	CoinTypeBSV  = 236
	FeeAccount   = 0

	// Hardened is the BIP32 hardened derivation offset.
	Hardened = 0x80000000
)

// Wallet derives funding keys from a BIP39 seed.
type Wallet struct {
	master  *bip32.ExtendedKey
	mainnet bool
}

// NewWallet creates a Wallet from seed. Extended keys use mainnet version
// bytes when mainnet is set and testnet ones otherwise.
func NewWallet(seed []byte, mainnet bool) (*Wallet, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	params := &chaincfg.TestNet
	if mainnet {
		params = &chaincfg.MainNet
	}
	master, err := bip32.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &Wallet{master: master, mainnet: mainnet}, nil
}

// FundingPath returns the derivation path of funding key index.
func FundingPath(index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/0/%d", PurposeBIP44, CoinTypeBSV, FeeAccount, index)
}

// FundingKey derives the private key at FundingPath(index).
func (w *Wallet) FundingKey(index uint32) (*ec.PrivateKey, error) {
	if index >= Hardened {
		return nil, fmt.Errorf("%w: index %d is in the hardened range", ErrDerivationFailed, index)
	}
	k := w.master
	for _, step := range []uint32{PurposeBIP44 + Hardened, CoinTypeBSV + Hardened, FeeAccount + Hardened, 0, index} {
		child, err := k.Child(step)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDerivationFailed, FundingPath(index), err)
		}
		k = child
	}
	priv, err := k.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return priv, nil
}
