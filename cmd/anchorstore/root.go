package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/anchorstore/config"
	"github.com/bitfsorg/anchorstore/logging"
	"github.com/bitfsorg/anchorstore/vault"
)

// closeTimeout bounds how long a command waits for queued alerts on exit.
const closeTimeout = 10 * time.Second

// app carries the global flags and the output stream shared by every command.
type app struct {
	dataDir    string
	configPath string
	jsonOutput bool
	out        io.Writer
}

func newApp(out io.Writer) *app {
	return &app{out: out}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchorstore",
		Short: "Content-addressed storage with on-chain anchoring",
		Long: `anchorstore keeps payloads in a local content-addressed store and anchors
their digests on chain through a retrying submission engine.

Examples:
  anchorstore init --network regtest
  anchorstore put report.pdf --meta name=report.pdf
  anchorstore run
  anchorstore status blake3:9f86d081...

Every command except init, restore and config holds an exclusive lock on the
data directory while it runs. A long-running "anchorstore run" therefore
blocks put, get and the other content commands on the same directory; stop
it first, or run it with --once from a scheduler.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.dataDir, "datadir", "", "data directory (default ~/.anchorstore)")
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default <datadir>/config.toml)")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(
		newInitCmd(a),
		newRestoreCmd(a),
		newPutCmd(a),
		newGetCmd(a),
		newVerifyCmd(a),
		newDeleteCmd(a),
		newStatusCmd(a),
		newListCmd(a),
		newEntriesCmd(a),
		newAuditCmd(a),
		newRepairCmd(a),
		newRunCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// resolvedDataDir applies --datadir, then ANCHOR_DATADIR, then the default.
func (a *app) resolvedDataDir() string {
	if a.dataDir != "" {
		return a.dataDir
	}
	if dir := os.Getenv(config.EnvPrefix + "DATADIR"); dir != "" {
		return dir
	}
	return config.DefaultDataDir()
}

func (a *app) resolvedConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.ConfigPath(a.resolvedDataDir())
}

// loadConfig reads the effective configuration. --datadir overrides the file.
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.resolvedConfigPath())
	if err != nil {
		return config.Config{}, err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	} else if cfg.DataDir == config.DefaultDataDir() {
		cfg.DataDir = a.resolvedDataDir()
	}
	return cfg, nil
}

// session is an open vault with its logger.
type session struct {
	cfg    config.Config
	vault  *vault.Vault
	log    zerolog.Logger
	closer io.Closer
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := s.vault.Close(ctx)
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

// open loads the configuration and opens the vault. online connects the
// chain bridge so the retry engine can run.
func (a *app) open(ctx context.Context, online bool, reg prometheus.Registerer) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.Open(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	opts := vault.Options{Logger: logger, Registerer: reg}
	if online {
		b, err := vault.NewChainBridge(ctx, cfg, environ(), logger)
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		opts.Bridge = b
	}
	v, err := vault.Open(cfg, opts)
	if errors.Is(err, vault.ErrLocked) {
		err = fmt.Errorf("%w; stop the running anchorstore run or use --once", err)
	}
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &session{cfg: cfg, vault: v, log: logger, closer: closer}, nil
}

// withVault runs fn against an offline vault and closes it afterwards.
func (a *app) withVault(cmd *cobra.Command, fn func(*vault.Vault) error) error {
	return a.useVault(cmd, false, fn)
}

func (a *app) useVault(cmd *cobra.Command, online bool, fn func(*vault.Vault) error) (err error) {
	s, err := a.open(cmd.Context(), online, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	return fn(s.vault)
}

// environ returns the process environment as a map.
func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
