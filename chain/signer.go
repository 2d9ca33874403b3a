// Package chain implements bridge.Bridge on a BSV node: anchoring digests in
// OP_RETURN outputs funded from a single signing key.
package chain

import (
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/anchorstore/tx"
)

// Signer owns the funding key. Key custody outside the process (an HSM or a
// remote signer) plugs in by implementing this interface.
type Signer interface {
	// PublicKey returns the funding public key.
	PublicKey() *ec.PublicKey

	// Sign signs every input of atx. utxos are matched to inputs by position.
	Sign(atx *tx.AnchorTx, utxos []*tx.UTXO) (string, error)
}

// KeySigner signs with an in-process private key.
type KeySigner struct {
	key *ec.PrivateKey
}

// Compile-time interface check.
var _ Signer = (*KeySigner)(nil)

// NewKeySigner wraps key.
func NewKeySigner(key *ec.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: private key", ErrInvalidKey)
	}
	return &KeySigner{key: key}, nil
}

// KeySignerFromBytes builds a KeySigner from a 32-byte secret.
func KeySignerFromBytes(secret []byte) (*KeySigner, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(secret))
	}
	key, _ := ec.PrivateKeyFromBytes(secret)
	return NewKeySigner(key)
}

func (s *KeySigner) PublicKey() *ec.PublicKey { return s.key.PubKey() }

func (s *KeySigner) Sign(atx *tx.AnchorTx, utxos []*tx.UTXO) (string, error) {
	keyed := make([]*tx.UTXO, len(utxos))
	for i, u := range utxos {
		if u == nil {
			return "", fmt.Errorf("%w: utxo[%d]", tx.ErrNilParam, i)
		}
		c := *u
		c.PrivateKey = s.key
		keyed[i] = &c
	}
	return tx.SignAnchorTx(atx, keyed)
}
