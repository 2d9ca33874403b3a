package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// Compile-time interface check.
var _ BlockchainService = (*RPCClient)(nil)

// btcToSat converts a BTC amount as returned by the node to satoshis.
func btcToSat(btc float64) uint64 {
	return uint64(math.Round(btc * 1e8))
}

type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Amount        float64 `json:"amount"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Address       string  `json:"address"`
	Confirmations int64   `json:"confirmations"`
}

// ListUnspent calls `listunspent 0 9999999 ["address"]`.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	params := []any{0, 9999999, []string{address}}
	var results []listUnspentResult
	if err := c.Call(ctx, "listunspent", params, &results); err != nil {
		return nil, err
	}

	utxos := make([]*UTXO, len(results))
	for i, r := range results {
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        btcToSat(r.Amount),
			ScriptPubKey:  r.ScriptPubKey,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		}
	}
	return utxos, nil
}

// BroadcastTx calls `sendrawtransaction "hex"`. Node rejections wrap
// ErrBroadcastRejected and keep the *RPCError in the chain so callers can
// classify the reject reason.
func (c *RPCClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	err := c.Call(ctx, "sendrawtransaction", []any{rawTxHex}, &txid)
	if err == nil {
		return txid, nil
	}
	var re *RPCError
	if errors.As(err, &re) {
		return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, re)
	}
	return "", err
}

type verboseTxResult struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
	BlockTime     int64  `json:"blocktime"`
}

// GetTxStatus calls `getrawtransaction "txid" true`. A transaction the node
// does not know returns ErrTxNotFound.
func (c *RPCClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	var result verboseTxResult
	if err := c.Call(ctx, "getrawtransaction", []any{txid, true}, &result); err != nil {
		return nil, notFound(err, txid)
	}
	status := &TxStatus{
		Confirmed:     result.Confirmations > 0,
		Confirmations: result.Confirmations,
		BlockHash:     result.BlockHash,
		BlockHeight:   result.BlockHeight,
	}
	if result.BlockTime > 0 {
		status.BlockTime = time.Unix(result.BlockTime, 0).UTC()
	}
	return status, nil
}

type walletTxResult struct {
	verboseTxResult
	Hex string `json:"hex"`
}

// GetWalletTx calls `gettransaction "txid" true`, which includes watch-only
// addresses. The wallet keeps mined transactions that a node without
// -txindex no longer returns from getrawtransaction. When the node omits the
// block height it is looked up with getblockheader.
func (c *RPCClient) GetWalletTx(ctx context.Context, txid string) (*WalletTx, error) {
	var result walletTxResult
	if err := c.Call(ctx, "gettransaction", []any{txid, true}, &result); err != nil {
		return nil, notFound(err, txid)
	}
	if result.BlockHash != "" && result.BlockHeight == 0 {
		var header struct {
			Height uint64 `json:"height"`
		}
		if err := c.Call(ctx, "getblockheader", []any{result.BlockHash, true}, &header); err != nil {
			return nil, err
		}
		result.BlockHeight = header.Height
	}
	wtx := &WalletTx{
		TxStatus: TxStatus{
			Confirmed:     result.Confirmations > 0,
			Confirmations: result.Confirmations,
			BlockHash:     result.BlockHash,
			BlockHeight:   result.BlockHeight,
		},
		Hex: result.Hex,
	}
	if result.BlockTime > 0 {
		wtx.BlockTime = time.Unix(result.BlockTime, 0).UTC()
	}
	return wtx, nil
}

// GetRawTx calls `getrawtransaction "txid" false` and returns the
// transaction hex.
func (c *RPCClient) GetRawTx(ctx context.Context, txid string) (string, error) {
	var rawHex string
	if err := c.Call(ctx, "getrawtransaction", []any{txid, false}, &rawHex); err != nil {
		return "", notFound(err, txid)
	}
	return rawHex, nil
}

// GetTxOutProof calls `gettxoutproof ["txid"] "blockhash"` and decodes the
// hex CMerkleBlock it returns. Naming the block lets nodes without a
// transaction index answer.
func (c *RPCClient) GetTxOutProof(ctx context.Context, txid, blockHash string) ([]byte, error) {
	var proofHex string
	if err := c.Call(ctx, "gettxoutproof", []any{[]string{txid}, blockHash}, &proofHex); err != nil {
		return nil, notFound(err, txid)
	}
	data, err := hex.DecodeString(proofHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid proof hex: %w", ErrInvalidResponse, err)
	}
	return data, nil
}

// ImportAddress calls `importaddress "address" "" false` without a rescan.
func (c *RPCClient) ImportAddress(ctx context.Context, address string) error {
	return c.Call(ctx, "importaddress", []any{address, "", false}, nil)
}

func notFound(err error, txid string) error {
	if IsRPCError(err, RPCInvalidAddress) {
		return fmt.Errorf("%w: %s: %w", ErrTxNotFound, txid, err)
	}
	return err
}
