package main

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/anchorstore/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(newConfigShowCmd(a), newConfigPathCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after file and environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if defaults {
				cfg = config.DefaultConfig()
				cfg.DataDir = a.resolvedDataDir()
			} else {
				var err error
				if cfg, err = a.loadConfig(); err != nil {
					return err
				}
			}
			if cfg.RPC.Password != "" {
				cfg.RPC.Password = "********"
			}
			if a.jsonOutput {
				return a.writeJSON(cfg)
			}
			return toml.NewEncoder(a.out).Encode(cfg)
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the built-in defaults, ignoring the file and environment")
	return cmd
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.writePlain("%s\n", a.resolvedConfigPath())
		},
	}
}
