package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/anchorstore/bridge"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/network"
	"github.com/bitfsorg/anchorstore/spv"
	"github.com/bitfsorg/anchorstore/tx"
)

// Options tune a Bridge.
type Options struct {
	// FeeRate in sat/KB. Zero means tx.DefaultFeeRate.
	FeeRate uint64
	// Network is mainnet, testnet or regtest. It selects the address
	// encoding and the easiest block target proofs may carry.
	Network string
	// Confirmations required before Poll reports PollConfirmed. Default 1.
	Confirmations int64
	// VerifyProofs makes Poll check a merkle inclusion proof before it
	// reports PollConfirmed.
	VerifyProofs bool
	Logger       zerolog.Logger
}

// Bridge anchors digests on a BSV node through a BlockchainService.
type Bridge struct {
	svc     network.BlockchainService
	signer  Signer
	opts    Options
	address string
	lock    []byte

	// Submits are serialized so two anchors never select the same outputs.
	mu sync.Mutex
	// spent holds outpoints consumed by broadcasts the node may not have
	// reflected in listunspent yet.
	spent map[string]struct{}
}

// Compile-time interface check.
var _ bridge.Bridge = (*Bridge)(nil)

// New returns a Bridge funding anchors from signer's P2PKH address.
func New(svc network.BlockchainService, signer Signer, opts Options) (*Bridge, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: blockchain service", tx.ErrNilParam)
	}
	if signer == nil || signer.PublicKey() == nil {
		return nil, fmt.Errorf("%w: signer", ErrInvalidKey)
	}
	if opts.Confirmations <= 0 {
		opts.Confirmations = 1
	}

	addr, err := tx.AddressFromPublicKey(signer.PublicKey(), opts.Network == "mainnet")
	if err != nil {
		return nil, err
	}
	lock, err := tx.BuildP2PKHScript(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	return &Bridge{
		svc:     svc,
		signer:  signer,
		opts:    opts,
		address: addr,
		lock:    lock,
		spent:   make(map[string]struct{}),
	}, nil
}

// Address returns the funding address.
func (b *Bridge) Address() string { return b.address }

// Watch registers the funding address with the node wallet.
func (b *Bridge) Watch(ctx context.Context) error {
	if err := b.svc.ImportAddress(ctx, b.address); err != nil {
		return bridge.NewError(bridge.Classify(err), "watch", err)
	}
	return nil
}

// Submit builds, signs and broadcasts a transaction anchoring fileHash.
func (b *Bridge) Submit(ctx context.Context, fileHash hasher.Digest, metadata map[string]string) (string, error) {
	const op = "submit"

	pushes, err := tx.BuildAnchorData(fileHash, metadata)
	if err != nil {
		return "", bridge.NewError(bridge.Rejected, op, err)
	}
	dataSize := 0
	for _, p := range pushes {
		dataSize += len(p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	candidates, err := b.unspent(ctx)
	if err != nil {
		return "", bridge.NewError(bridge.Classify(err), op, err)
	}
	if len(candidates) == 0 {
		return "", bridge.NewError(bridge.InsufficientFunds, op, fmt.Errorf("%w: %s", ErrNoFunds, b.address))
	}

	// Budget for up to every candidate as an input; BuildAnchorTx re-checks
	// the exact fee for the selected set.
	target := tx.EstimateFee(tx.EstimateTxSize(len(candidates), 1, dataSize), b.opts.FeeRate)
	inputs, err := tx.SelectUTXOs(candidates, target)
	if err != nil {
		return "", bridge.NewError(bridge.InsufficientFunds, op, err)
	}

	atx, err := tx.BuildAnchorTx(tx.AnchorParams{
		Digest:       fileHash,
		Metadata:     metadata,
		FeeInputs:    inputs,
		ChangeScript: b.lock,
		FeeRate:      b.opts.FeeRate,
	})
	switch {
	case errors.Is(err, tx.ErrInsufficientFunds):
		return "", bridge.NewError(bridge.InsufficientFunds, op, err)
	case errors.Is(err, tx.ErrInvalidPayload):
		return "", bridge.NewError(bridge.Rejected, op, err)
	case err != nil:
		return "", bridge.NewError(bridge.TransientNetworkError, op, err)
	}

	rawHex, err := b.signer.Sign(atx, inputs)
	if err != nil {
		return "", bridge.NewError(bridge.TransientNetworkError, op, err)
	}
	localID, err := txidString(atx.TxID)
	if err != nil {
		return "", bridge.NewError(bridge.TransientNetworkError, op, err)
	}

	txID, err := b.svc.BroadcastTx(ctx, rawHex)
	if err != nil {
		if network.IsRPCError(err, network.RPCVerifyAlreadyInChain) {
			txID = localID
		} else {
			return "", bridge.NewError(classifyBroadcast(err), op, err)
		}
	}
	if txID == "" {
		txID = localID
	}

	for _, in := range inputs {
		b.spent[outpointKey(in.TxID, in.Vout)] = struct{}{}
	}
	b.opts.Logger.Debug().
		Str("hash", fileHash.String()).
		Str("tx_id", txID).
		Uint64("fee", atx.Fee).
		Int("inputs", len(inputs)).
		Msg("anchor broadcast")
	return txID, nil
}

// Poll maps the node's view of txID onto a PollResult. A transaction that
// neither the node nor its wallet knows, or that the wallet reports as
// conflicted, was dropped and is reported as a retryable NonceMismatch so the
// engine anchors it again.
func (b *Bridge) Poll(ctx context.Context, txID string) (bridge.PollResult, error) {
	const op = "poll"

	status, err := b.svc.GetTxStatus(ctx, txID)
	if errors.Is(err, network.ErrTxNotFound) {
		// Without -txindex the node only answers for mempool transactions.
		// The funding address is watched, so the wallet still has mined ones.
		status, err = b.walletStatus(ctx, txID)
		if errors.Is(err, network.ErrTxNotFound) {
			return bridge.PollResult{}, bridge.NewError(bridge.NonceMismatch, op, err)
		}
	}
	if err != nil {
		return bridge.PollResult{}, bridge.NewError(bridge.Classify(err), op, err)
	}
	if status.Confirmations < b.opts.Confirmations {
		return bridge.PollResult{State: bridge.PollPending}, nil
	}
	if b.opts.VerifyProofs {
		if err := b.verifyInclusion(ctx, txID, status.BlockHash); err != nil {
			var be *bridge.Error
			if errors.As(err, &be) {
				return bridge.PollResult{}, err
			}
			b.opts.Logger.Warn().Err(err).Str("tx_id", txID).Str("block", status.BlockHash).
				Msg("inclusion proof rejected, treating as unconfirmed")
			return bridge.PollResult{State: bridge.PollPending}, nil
		}
	}
	return bridge.PollResult{
		State:       bridge.PollConfirmed,
		BlockID:     status.BlockHash,
		BlockHeight: status.BlockHeight,
		ConfirmedAt: status.BlockTime,
	}, nil
}

func (b *Bridge) walletStatus(ctx context.Context, txID string) (*network.TxStatus, error) {
	wtx, err := b.svc.GetWalletTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	if wtx.Confirmations < 0 {
		return nil, fmt.Errorf("%w: %s conflicts with the chain", network.ErrTxNotFound, txID)
	}
	return &wtx.TxStatus, nil
}

// VerifyAnchor fetches txID and checks that one of its outputs anchors
// digest. It returns ErrAnchorMismatch when the transaction anchors other
// content and tx.ErrNotAnchorTx when it carries no anchor at all.
func (b *Bridge) VerifyAnchor(ctx context.Context, txID string, digest hasher.Digest) error {
	rawHex, err := b.rawTx(ctx, txID)
	if err != nil {
		return fmt.Errorf("chain: verify anchor %s: %w", txID, err)
	}
	parsed, err := transaction.NewTransactionFromHex(rawHex)
	if err != nil {
		return fmt.Errorf("chain: verify anchor %s: %w: %w", txID, network.ErrInvalidResponse, err)
	}
	if got := parsed.TxID().String(); got != txID {
		return fmt.Errorf("chain: verify anchor %s: node returned %s: %w", txID, got, network.ErrInvalidResponse)
	}

	var anchored []string
	for _, out := range parsed.Outputs {
		if out.LockingScript == nil {
			continue
		}
		d, _, err := tx.ParseAnchorScript(out.LockingScript.Bytes())
		if errors.Is(err, tx.ErrNotAnchorTx) {
			continue
		}
		if err != nil {
			return fmt.Errorf("chain: verify anchor %s: %w", txID, err)
		}
		if d.Equal(digest) {
			b.opts.Logger.Debug().Str("tx_id", txID).Str("hash", digest.String()).Msg("anchor verified")
			return nil
		}
		anchored = append(anchored, d.String())
	}
	if len(anchored) == 0 {
		return fmt.Errorf("chain: verify anchor %s: %w", txID, tx.ErrNotAnchorTx)
	}
	return fmt.Errorf("%w: %s anchors %s, not %s", ErrAnchorMismatch, txID, strings.Join(anchored, ","), digest)
}

// rawTx returns the hex of txID, falling back to the wallet copy when the
// node has no transaction index.
func (b *Bridge) rawTx(ctx context.Context, txID string) (string, error) {
	rawHex, err := b.svc.GetRawTx(ctx, txID)
	if !errors.Is(err, network.ErrTxNotFound) {
		return rawHex, err
	}
	wtx, werr := b.svc.GetWalletTx(ctx, txID)
	if werr != nil {
		return "", werr
	}
	if wtx.Hex == "" {
		return "", err
	}
	return wtx.Hex, nil
}

// verifyInclusion fetches the node's proof for txID and checks it against
// blockHash. Node failures come back as *bridge.Error.
func (b *Bridge) verifyInclusion(ctx context.Context, txID, blockHash string) error {
	const op = "proof"

	raw, err := b.svc.GetTxOutProof(ctx, txID, blockHash)
	if errors.Is(err, network.ErrTxNotFound) {
		return bridge.NewError(bridge.TransientNetworkError, op, err)
	}
	if err != nil {
		return bridge.NewError(bridge.Classify(err), op, err)
	}
	id, err := chainhash.NewHashFromHex(txID)
	if err != nil {
		return err
	}
	block, err := chainhash.NewHashFromHex(blockHash)
	if err != nil {
		return err
	}
	mb, err := spv.ParseMerkleBlock(raw)
	if err != nil {
		return err
	}
	proof, err := spv.VerifyInclusion(mb, *id, *block, b.opts.Network)
	if err != nil {
		return err
	}
	b.opts.Logger.Debug().Str("tx_id", txID).Uint32("index", proof.Index).Uint32("block_txs", mb.Total).Msg("inclusion proof verified")
	return nil
}

// unspent lists spendable outputs, dropping those consumed by earlier
// broadcasts. Entries the node no longer lists are forgotten.
func (b *Bridge) unspent(ctx context.Context) ([]*tx.UTXO, error) {
	listed, err := b.svc.ListUnspent(ctx, b.address)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(listed))
	out := make([]*tx.UTXO, 0, len(listed))
	for _, u := range listed {
		txid, err := txidBytes(u.TxID)
		if err != nil {
			b.opts.Logger.Warn().Err(err).Str("tx_id", u.TxID).Msg("skipping malformed utxo")
			continue
		}
		key := outpointKey(txid, u.Vout)
		seen[key] = struct{}{}
		if _, ok := b.spent[key]; ok {
			continue
		}

		lock := b.lock
		if u.ScriptPubKey != "" {
			if lock, err = hex.DecodeString(u.ScriptPubKey); err != nil {
				continue
			}
		}
		out = append(out, &tx.UTXO{
			TxID:         txid,
			Vout:         u.Vout,
			Amount:       u.Amount,
			ScriptPubKey: lock,
		})
	}
	for key := range b.spent {
		if _, ok := seen[key]; !ok {
			delete(b.spent, key)
		}
	}
	return out, nil
}

// classifyBroadcast maps a broadcast failure to a code. Node rejections whose
// reason text is not recognised are permanent.
func classifyBroadcast(err error) bridge.ErrorCode {
	var re *network.RPCError
	if errors.As(err, &re) {
		code := bridge.ClassifyMessage(re.Message)
		if code == bridge.TransientNetworkError && errors.Is(err, network.ErrBroadcastRejected) {
			return bridge.Rejected
		}
		if re.Code == network.RPCInWarmup {
			return bridge.TransientNetworkError
		}
		return code
	}
	return bridge.Classify(err)
}

// txidBytes converts a display-order txid to internal byte order.
func txidBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != tx.TxIDLen {
		return nil, fmt.Errorf("txid must be %d bytes, got %d", tx.TxIDLen, len(b))
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}

func txidString(internal []byte) (string, error) {
	h, err := chainhash.NewHash(internal)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func outpointKey(txid []byte, vout uint32) string {
	return fmt.Sprintf("%x:%d", txid, vout)
}
