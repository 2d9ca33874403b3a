package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitfsorg/anchorstore/chain"
	"github.com/bitfsorg/anchorstore/config"
	"github.com/bitfsorg/anchorstore/network"
	"github.com/bitfsorg/anchorstore/wallet"
)

// ErrKeyExists indicates InitKey found a key file already in place.
var ErrKeyExists = errors.New("vault: funding key already exists")

// InitKey creates the funding wallet at cfg.KeyPath() from a fresh 24-word
// mnemonic sealed under cfg.Chain.Passphrase. The mnemonic is returned for
// backup and is not stored. An existing key file is never overwritten.
func InitKey(cfg config.Config) (path, mnemonic string, err error) {
	mnemonic, err = wallet.GenerateMnemonic(wallet.Mnemonic24Words)
	if err != nil {
		return "", "", err
	}
	path, err = RestoreKey(cfg, mnemonic)
	if err != nil {
		return "", "", err
	}
	return path, mnemonic, nil
}

// RestoreKey writes the funding wallet for an existing mnemonic.
func RestoreKey(cfg config.Config, mnemonic string) (string, error) {
	kf, err := wallet.NewKeyFile(strings.Join(strings.Fields(mnemonic), " "), cfg.Chain.Passphrase, cfg.Network, time.Now())
	if err != nil {
		return "", err
	}

	path := cfg.KeyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("vault: create key directory: %w", err)
	}
	kl, err := lockPath(filepath.Join(filepath.Dir(path), "key.lock"), true)
	if err != nil {
		return "", err
	}
	defer kl.release()

	if err := wallet.WriteKeyFile(path, kf); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
		return "", err
	}
	return path, nil
}

// LoadSigner unlocks the funding wallet at cfg.KeyPath() and returns a
// signer for key cfg.Chain.KeyIndex.
func LoadSigner(cfg config.Config) (*chain.KeySigner, error) {
	kf, err := wallet.ReadKeyFile(cfg.KeyPath(), cfg.Network)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found (run init)", chain.ErrInvalidKey, cfg.KeyPath())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chain.ErrInvalidKey, err)
	}
	w, err := kf.Wallet(cfg.Chain.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chain.ErrInvalidKey, err)
	}
	key, err := w.FundingKey(cfg.Chain.KeyIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chain.ErrInvalidKey, err)
	}
	return chain.NewKeySigner(key)
}

// NewChainBridge connects to the node configured in [rpc] and returns a
// bridge funded by the key in [chain]. env supplies ANCHOR_RPC_* fallbacks.
func NewChainBridge(ctx context.Context, cfg config.Config, env map[string]string, logger zerolog.Logger) (*chain.Bridge, error) {
	rpcCfg, err := network.ResolveConfig(&cfg.RPC, env, cfg.Network)
	if err != nil {
		return nil, err
	}
	signer, err := LoadSigner(cfg)
	if err != nil {
		return nil, err
	}

	b, err := chain.New(network.NewRPCClient(*rpcCfg), signer, chain.Options{
		FeeRate:       cfg.Chain.FeeRate,
		Network:       cfg.Network,
		Confirmations: cfg.Chain.Confirmations,
		VerifyProofs:  cfg.Chain.VerifyProofs,
		Logger:        logger.With().Str("component", "chain").Logger(),
	})
	if err != nil {
		return nil, err
	}
	if err := b.Watch(ctx); err != nil {
		logger.Warn().Err(err).Str("address", b.Address()).Msg("could not register funding address with node")
	}
	return b, nil
}
