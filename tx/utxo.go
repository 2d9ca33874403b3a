package tx

import (
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// UTXO is a spendable output used to fund anchoring transactions.
type UTXO struct {
	TxID         []byte         `json:"txid"`          // 32 bytes, internal byte order
	Vout         uint32         `json:"vout"`
	Amount       uint64         `json:"amount"`        // satoshis
	ScriptPubKey []byte         `json:"script_pubkey"` // locking script bytes
	PrivateKey   *ec.PrivateKey `json:"-"`
}

// AnchorTx is a built anchoring transaction.
//
// Output layout:
//
//	[0] OP_FALSE OP_RETURN "anchor" <alg> <digest> <cbor metadata>
//	[1] P2PKH change (omitted when at or below dust)
type AnchorTx struct {
	RawTx      []byte
	TxID       []byte // set by SignAnchorTx
	Fee        uint64
	ChangeUTXO *UTXO
}
