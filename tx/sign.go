package tx

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// SignAnchorTx signs every input of atx with the key of the UTXO at the same
// position and returns the signed hex. Each UTXO must be the outpoint its
// input spends. atx.RawTx, atx.TxID and the change outpoint are updated.
func SignAnchorTx(atx *AnchorTx, utxos []*UTXO) (string, error) {
	switch {
	case atx == nil:
		return "", fmt.Errorf("%w: AnchorTx", ErrNilParam)
	case len(utxos) == 0:
		return "", fmt.Errorf("%w: utxos", ErrNilParam)
	case len(atx.RawTx) == 0:
		return "", fmt.Errorf("%w: nothing to sign", ErrSigningFailed)
	}

	sdkTx, err := transaction.NewTransactionFromBytes(atx.RawTx)
	if err != nil {
		return "", fmt.Errorf("%w: parse unsigned tx: %w", ErrSigningFailed, err)
	}
	if n := len(sdkTx.Inputs); n != len(utxos) {
		return "", fmt.Errorf("%w: %d inputs, %d utxos", ErrSigningFailed, n, len(utxos))
	}
	for i, in := range sdkTx.Inputs {
		if err := attachUnlocker(in, utxos[i]); err != nil {
			return "", fmt.Errorf("input %d: %w", i, err)
		}
	}
	if err := sdkTx.Sign(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	atx.RawTx = sdkTx.Bytes()
	atx.TxID = sdkTx.TxID().CloneBytes()
	if atx.ChangeUTXO != nil {
		atx.ChangeUTXO.TxID = atx.TxID
	}
	return sdkTx.Hex(), nil
}

func attachUnlocker(in *transaction.TransactionInput, u *UTXO) error {
	switch {
	case u == nil:
		return fmt.Errorf("%w: utxo", ErrNilParam)
	case u.PrivateKey == nil:
		return fmt.Errorf("%w: no private key", ErrSigningFailed)
	case len(u.ScriptPubKey) == 0:
		return fmt.Errorf("%w: no locking script", ErrSigningFailed)
	case in.SourceTxOutIndex != u.Vout || !bytes.Equal(in.SourceTXID.CloneBytes(), u.TxID):
		return fmt.Errorf("%w: utxo is not the spent outpoint", ErrSigningFailed)
	}
	unlocker, err := p2pkh.Unlock(u.PrivateKey, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	in.SetSourceTxOutput(&transaction.TransactionOutput{
		Satoshis:      u.Amount,
		LockingScript: script.NewFromBytes(u.ScriptPubKey),
	})
	in.UnlockingScriptTemplate = unlocker
	return nil
}

// BuildP2PKHScript creates a P2PKH locking script for pubKey.
func BuildP2PKHScript(pubKey *ec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("%w: public key", ErrNilParam)
	}
	addr, err := script.NewAddressFromPublicKey(pubKey, true)
	if err != nil {
		return nil, fmt.Errorf("%w: address from pubkey: %w", ErrScriptBuild, err)
	}
	lockScript, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock script: %w", ErrScriptBuild, err)
	}
	return []byte(*lockScript), nil
}

// AddressFromPublicKey returns the P2PKH address string for pubKey.
func AddressFromPublicKey(pubKey *ec.PublicKey, mainnet bool) (string, error) {
	if pubKey == nil {
		return "", fmt.Errorf("%w: public key", ErrNilParam)
	}
	addr, err := script.NewAddressFromPublicKey(pubKey, mainnet)
	if err != nil {
		return "", fmt.Errorf("%w: address from pubkey: %w", ErrScriptBuild, err)
	}
	return addr.AddressString, nil
}
