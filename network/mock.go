package network

import (
	"context"
	"fmt"
)

// MockBlockchainService is a test double for BlockchainService. A method
// whose function field is nil fails with ErrConnectionFailed, which callers
// see as an unreachable node.
type MockBlockchainService struct {
	ListUnspentFn   func(ctx context.Context, address string) ([]*UTXO, error)
	BroadcastTxFn   func(ctx context.Context, rawTxHex string) (string, error)
	GetTxStatusFn   func(ctx context.Context, txid string) (*TxStatus, error)
	GetWalletTxFn   func(ctx context.Context, txid string) (*WalletTx, error)
	GetRawTxFn      func(ctx context.Context, txid string) (string, error)
	GetTxOutProofFn func(ctx context.Context, txid, blockHash string) ([]byte, error)
	ImportAddressFn func(ctx context.Context, address string) error
}

var _ BlockchainService = (*MockBlockchainService)(nil)

func unset(method string) error {
	return fmt.Errorf("%w: mock %s not set", ErrConnectionFailed, method)
}

func (m *MockBlockchainService) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	if m.ListUnspentFn == nil {
		return nil, unset("ListUnspent")
	}
	return m.ListUnspentFn(ctx, address)
}

func (m *MockBlockchainService) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	if m.BroadcastTxFn == nil {
		return "", unset("BroadcastTx")
	}
	return m.BroadcastTxFn(ctx, rawTxHex)
}

func (m *MockBlockchainService) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	if m.GetTxStatusFn == nil {
		return nil, unset("GetTxStatus")
	}
	return m.GetTxStatusFn(ctx, txid)
}

func (m *MockBlockchainService) GetWalletTx(ctx context.Context, txid string) (*WalletTx, error) {
	if m.GetWalletTxFn == nil {
		return nil, unset("GetWalletTx")
	}
	return m.GetWalletTxFn(ctx, txid)
}

func (m *MockBlockchainService) GetRawTx(ctx context.Context, txid string) (string, error) {
	if m.GetRawTxFn == nil {
		return "", unset("GetRawTx")
	}
	return m.GetRawTxFn(ctx, txid)
}

func (m *MockBlockchainService) GetTxOutProof(ctx context.Context, txid, blockHash string) ([]byte, error) {
	if m.GetTxOutProofFn == nil {
		return nil, unset("GetTxOutProof")
	}
	return m.GetTxOutProofFn(ctx, txid, blockHash)
}

// ImportAddress succeeds when ImportAddressFn is nil.
func (m *MockBlockchainService) ImportAddress(ctx context.Context, address string) error {
	if m.ImportAddressFn == nil {
		return nil
	}
	return m.ImportAddressFn(ctx, address)
}
