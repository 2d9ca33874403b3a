package network

import (
	"context"
	"time"
)

// BlockchainService is the node functionality needed to fund, broadcast and
// track anchoring transactions.
type BlockchainService interface {
	// ListUnspent returns all unspent outputs for address.
	ListUnspent(ctx context.Context, address string) ([]*UTXO, error)

	// BroadcastTx submits a raw transaction hex and returns the txid.
	BroadcastTx(ctx context.Context, rawTxHex string) (string, error)

	// GetTxStatus returns the confirmation status of txid.
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)

	// GetWalletTx returns txid as recorded by the node wallet. Negative
	// confirmations mean the transaction conflicts with the chain.
	GetWalletTx(ctx context.Context, txid string) (*WalletTx, error)

	// GetRawTx returns the serialized transaction as hex.
	GetRawTx(ctx context.Context, txid string) (string, error)

	// GetTxOutProof returns the serialized CMerkleBlock proving txid is in
	// blockHash.
	GetTxOutProof(ctx context.Context, txid, blockHash string) ([]byte, error)

	// ImportAddress adds a watch-only address to the node wallet so that
	// ListUnspent can see its outputs. Safe to call more than once.
	ImportAddress(ctx context.Context, address string) error
}

// UTXO is an unspent transaction output. Amount is in satoshis.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"`
	ScriptPubKey  string `json:"script_pubkey"`
	Address       string `json:"address"`
	Confirmations int64  `json:"confirmations"`
}

// TxStatus is the confirmation status of a transaction.
type TxStatus struct {
	Confirmed     bool      `json:"confirmed"`
	Confirmations int64     `json:"confirmations"`
	BlockHash     string    `json:"block_hash"`
	BlockHeight   uint64    `json:"block_height"`
	BlockTime     time.Time `json:"block_time"`
}

// WalletTx is a wallet transaction with its serialized form.
type WalletTx struct {
	TxStatus
	Hex string `json:"hex"`
}
