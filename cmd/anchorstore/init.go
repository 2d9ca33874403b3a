package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/anchorstore/config"
	"github.com/bitfsorg/anchorstore/tx"
	"github.com/bitfsorg/anchorstore/vault"
)

// newConfigFlags are the settings init and restore apply to a config they
// create.
type newConfigFlags struct {
	network string
	rpcURL  string
}

func (f *newConfigFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.network, "network", "", "network for a new config (mainnet, testnet, regtest)")
	cmd.Flags().StringVar(&f.rpcURL, "rpc-url", "", "node RPC URL for a new config")
}

// keyConfig loads the config, writing a default one first when none exists.
// The environment is applied after saving so ANCHOR_CHAIN_PASSPHRASE never
// reaches the file.
func (a *app) keyConfig(f newConfigFlags) (config.Config, error) {
	path := a.resolvedConfigPath()
	cfg, err := config.LoadConfig(path)
	switch {
	case err == nil:
		if a.dataDir != "" {
			cfg.DataDir = a.dataDir
		}
	case errors.Is(err, config.ErrConfigNotFound):
		cfg = config.DefaultConfig()
		cfg.DataDir = a.resolvedDataDir()
		if f.network != "" {
			cfg.Network = f.network
		}
		cfg.RPC.URL = f.rpcURL
		if err := config.ValidateConfig(cfg); err != nil {
			return config.Config{}, err
		}
		if err := config.SaveConfig(path, cfg); err != nil {
			return config.Config{}, err
		}
		if !a.jsonOutput {
			if err := a.writePlain("wrote %s\n", path); err != nil {
				return config.Config{}, err
			}
		}
	default:
		return config.Config{}, err
	}

	dataDir := cfg.DataDir
	if err := config.ApplyEnv(&cfg, environ()); err != nil {
		return config.Config{}, err
	}
	if a.dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// reportKey prints the funding address of the unlocked key.
func (a *app) reportKey(cfg config.Config, keyPath, mnemonic string) error {
	signer, err := vault.LoadSigner(cfg)
	if err != nil {
		return err
	}
	addr, err := tx.AddressFromPublicKey(signer.PublicKey(), cfg.Network == "mainnet")
	if err != nil {
		return err
	}
	if a.jsonOutput {
		out := map[string]string{
			"config":  a.resolvedConfigPath(),
			"key":     keyPath,
			"address": addr,
			"network": cfg.Network,
		}
		if mnemonic != "" {
			out["mnemonic"] = mnemonic
		}
		return a.writeJSON(out)
	}
	return a.writePlain("funding address (%s): %s\n", cfg.Network, addr)
}

func newInitCmd(a *app) *cobra.Command {
	var flags newConfigFlags

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the funding wallet",
		Long: `Write a default config when none exists and create the funding wallet.

The wallet seed is encrypted with ANCHOR_CHAIN_PASSPHRASE. The recovery
phrase is printed once; write it down, it is not stored anywhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.keyConfig(flags)
			if err != nil {
				return err
			}

			keyPath, mnemonic, err := vault.InitKey(cfg)
			switch {
			case errors.Is(err, vault.ErrKeyExists):
				keyPath = cfg.KeyPath()
				if !a.jsonOutput {
					if err := a.writePlain("funding key already present at %s\n", keyPath); err != nil {
						return err
					}
				}
			case err != nil:
				return err
			case !a.jsonOutput:
				if err := a.writePlain("created funding wallet %s\n\nrecovery phrase:\n  %s\n\n", keyPath, mnemonic); err != nil {
					return err
				}
			}
			return a.reportKey(cfg, keyPath, mnemonic)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var flags newConfigFlags

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Recreate the funding wallet from a recovery phrase read on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
			if err != nil {
				return fmt.Errorf("read recovery phrase: %w", err)
			}
			mnemonic := strings.Join(strings.Fields(string(phrase)), " ")
			if mnemonic == "" {
				return errors.New("no recovery phrase on stdin")
			}

			cfg, err := a.keyConfig(flags)
			if err != nil {
				return err
			}
			keyPath, err := vault.RestoreKey(cfg, mnemonic)
			if err != nil {
				return err
			}
			if !a.jsonOutput {
				if err := a.writePlain("restored funding wallet %s\n", keyPath); err != nil {
					return err
				}
			}
			return a.reportKey(cfg, keyPath, "")
		},
	}
	flags.register(cmd)
	return cmd
}
