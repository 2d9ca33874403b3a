package tx

import (
	"fmt"
	"sort"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/bitfsorg/anchorstore/hasher"
)

// AnchorParams describes an anchoring transaction to build.
type AnchorParams struct {
	Digest   hasher.Digest
	Metadata map[string]string
	// FeeInputs fund the transaction. All of them are spent.
	FeeInputs []*UTXO
	// ChangeScript locks the change output. Required.
	ChangeScript []byte
	// FeeRate in sat/KB. Zero means DefaultFeeRate.
	FeeRate uint64
}

// BuildAnchorTx builds an unsigned anchoring transaction.
func BuildAnchorTx(p AnchorParams) (*AnchorTx, error) {
	if len(p.FeeInputs) == 0 {
		return nil, fmt.Errorf("%w: no fee inputs", ErrNilParam)
	}
	if len(p.ChangeScript) == 0 {
		return nil, fmt.Errorf("%w: change script", ErrNilParam)
	}

	pushes, err := BuildAnchorData(p.Digest, p.Metadata)
	if err != nil {
		return nil, err
	}
	dataSize := 0
	for _, push := range pushes {
		dataSize += len(push)
	}

	var available uint64
	for i, in := range p.FeeInputs {
		if in == nil {
			return nil, fmt.Errorf("%w: feeInput[%d]", ErrNilParam, i)
		}
		available += in.Amount
	}

	fee := EstimateFee(EstimateTxSize(len(p.FeeInputs), 1, dataSize), p.FeeRate)
	if available < fee {
		return nil, fmt.Errorf("%w: need %d sat, have %d sat", ErrInsufficientFunds, fee, available)
	}

	sdkTx := transaction.NewTransaction()
	for _, in := range p.FeeInputs {
		h, err := chainhash.NewHash(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid fee UTXO TxID: %w", ErrScriptBuild, err)
		}
		sdkTx.AddInput(&transaction.TransactionInput{
			SourceTXID:       h,
			SourceTxOutIndex: in.Vout,
			SequenceNumber:   transaction.DefaultSequenceNumber,
		})
	}

	opReturn, err := buildOPReturnScript(pushes)
	if err != nil {
		return nil, err
	}
	sdkTx.Outputs = append(sdkTx.Outputs, &transaction.TransactionOutput{
		Satoshis:      0,
		LockingScript: opReturn,
	})

	result := &AnchorTx{Fee: fee}
	if change := available - fee; change > DustLimit {
		sdkTx.Outputs = append(sdkTx.Outputs, &transaction.TransactionOutput{
			Satoshis:      change,
			LockingScript: script.NewFromBytes(p.ChangeScript),
		})
		result.ChangeUTXO = &UTXO{
			Vout:         1,
			Amount:       change,
			ScriptPubKey: append([]byte(nil), p.ChangeScript...),
		}
	} else {
		result.Fee = available
	}

	result.RawTx = sdkTx.Bytes()
	return result, nil
}

// SelectUTXOs picks the largest outputs first until their total reaches
// target. It returns ErrInsufficientFunds when all of them fall short.
func SelectUTXOs(candidates []*UTXO, target uint64) ([]*UTXO, error) {
	sorted := make([]*UTXO, 0, len(candidates))
	for _, u := range candidates {
		if u != nil && u.Amount > 0 {
			sorted = append(sorted, u)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	var total uint64
	for i, u := range sorted {
		total += u.Amount
		if total >= target {
			return sorted[:i+1], nil
		}
	}
	return nil, fmt.Errorf("%w: need %d sat, have %d sat", ErrInsufficientFunds, target, total)
}
