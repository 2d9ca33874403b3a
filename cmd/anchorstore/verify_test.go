package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/anchorstore/chain"
	"github.com/bitfsorg/anchorstore/config"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/ledger"
	"github.com/bitfsorg/anchorstore/network"
	"github.com/bitfsorg/anchorstore/tx"
	"github.com/bitfsorg/anchorstore/vault"
)

// rawTxNode answers the JSON-RPC calls of verify --anchor from rawTxs.
func rawTxNode(t *testing.T, rawTxs map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{"id": req.ID, "result": nil, "error": nil}
		notFound := map[string]any{"code": network.RPCInvalidAddress, "message": "No such mempool or blockchain transaction"}

		switch req.Method {
		case "importaddress":
		case "getrawtransaction":
			if h, ok := rawTxs[req.Params[0].(string)]; ok {
				resp["result"] = h
			} else {
				resp["error"] = notFound
			}
		case "gettransaction":
			resp["error"] = notFound
		default:
			t.Errorf("unexpected RPC method: %s", req.Method)
		}
		if resp["error"] != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

// anchorTx signs a transaction anchoring d and returns its id and hex.
func anchorTx(t *testing.T, d hasher.Digest) (string, string) {
	t.Helper()
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)
	signer, err := chain.NewKeySigner(key)
	require.NoError(t, err)
	lock, err := tx.BuildP2PKHScript(signer.PublicKey())
	require.NoError(t, err)

	var rawHex string
	svc := &network.MockBlockchainService{
		ListUnspentFn: func(context.Context, string) ([]*network.UTXO, error) {
			return []*network.UTXO{{TxID: strings.Repeat("11", 32), Amount: 50000, ScriptPubKey: hex.EncodeToString(lock)}}, nil
		},
		BroadcastTxFn: func(_ context.Context, h string) (string, error) {
			rawHex = h
			return "", nil
		},
	}
	b, err := chain.New(svc, signer, chain.Options{Network: "regtest"})
	require.NoError(t, err)
	txID, err := b.Submit(context.Background(), d, nil)
	require.NoError(t, err)
	return txID, rawHex
}

// markSubmitted records txID as the anchor transaction of hash.
func markSubmitted(t *testing.T, dir string, hash hasher.Digest, txID string) {
	t.Helper()
	cfg, err := config.Load(config.ConfigPath(dir))
	require.NoError(t, err)
	v, err := vault.Open(cfg, vault.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer func() { require.NoError(t, v.Close(context.Background())) }()

	ctx := context.Background()
	entry, err := v.Ledger.Get(ctx, hash)
	require.NoError(t, err)
	next := entry
	next.State = ledger.Submitted
	next.TxID = txID
	require.NoError(t, v.Ledger.Transition(ctx, next, ledger.Pending))
}

func putDigest(t *testing.T, dir, payload string) hasher.Digest {
	t.Helper()
	out, err := runCLI(t, dir, strings.NewReader(payload), "put", "-")
	require.NoError(t, err)
	d, err := hasher.ParseDigest(putHash(t, out))
	require.NoError(t, err)
	return d
}

func TestVerifyAnchorFlag(t *testing.T) {
	dir := initDir(t)
	good := putDigest(t, dir, "anchored payload")
	bad := putDigest(t, dir, "misanchored payload")
	other, err := hasher.Sum([]byte("some other file"), good.Algorithm)
	require.NoError(t, err)

	goodID, goodHex := anchorTx(t, good)
	otherID, otherHex := anchorTx(t, other)
	node := rawTxNode(t, map[string]string{goodID: goodHex, otherID: otherHex})
	defer node.Close()
	t.Setenv("ANCHOR_RPC_URL", node.URL)

	out, err := runCLI(t, dir, nil, "verify", good.String(), "--anchor")
	assert.ErrorIs(t, err, vault.ErrNotAnchored)
	assert.Contains(t, out, "not anchored")

	markSubmitted(t, dir, good, goodID)
	out, err = runCLI(t, dir, nil, "verify", good.String(), "--anchor")
	require.NoError(t, err)
	assert.Contains(t, out, "ok  anchored in "+goodID)

	markSubmitted(t, dir, bad, otherID)
	out, err = runCLI(t, dir, nil, "--json", "verify", bad.String(), "--anchor")
	assert.ErrorIs(t, err, chain.ErrAnchorMismatch)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, false, res["anchor_ok"])
	assert.Contains(t, res["anchor_error"], other.String())

	// Without --anchor no node is needed.
	t.Setenv("ANCHOR_RPC_URL", "http://127.0.0.1:1")
	out, err = runCLI(t, dir, nil, "verify", bad.String())
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestContentCommandsReportHeldLock(t *testing.T) {
	dir := initDir(t)
	cfg, err := config.Load(config.ConfigPath(dir))
	require.NoError(t, err)
	held, err := vault.Open(cfg, vault.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = runCLI(t, dir, strings.NewReader("blocked"), "put", "-")
	require.ErrorIs(t, err, vault.ErrLocked)
	assert.Contains(t, err.Error(), "--once")

	require.NoError(t, held.Close(context.Background()))
	_, err = runCLI(t, dir, strings.NewReader("unblocked"), "put", "-")
	require.NoError(t, err)
}
