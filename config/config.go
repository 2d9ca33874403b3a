// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads anchorstore configuration from a TOML file with
// ANCHOR_-prefixed environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"

	"github.com/bitfsorg/anchorstore/alert"
	"github.com/bitfsorg/anchorstore/monitor"
	"github.com/bitfsorg/anchorstore/network"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANCHOR_"

// Config is the complete anchorstore configuration.
type Config struct {
	DataDir   string `toml:"datadir" env:"DATADIR"`
	Network   string `toml:"network" env:"NETWORK"`
	LogLevel  string `toml:"loglevel" env:"LOGLEVEL"`
	LogFormat string `toml:"logformat" env:"LOGFORMAT"`
	LogFile   string `toml:"logfile" env:"LOGFILE"`

	Storage StorageConfig     `toml:"storage" envPrefix:"STORAGE_"`
	Engine  monitor.Config    `toml:"engine" envPrefix:"ENGINE_"`
	Alerts  AlertsConfig      `toml:"alerts" envPrefix:"ALERTS_"`
	RPC     network.RPCConfig `toml:"rpc" envPrefix:"RPC_"`
	Chain   ChainConfig       `toml:"chain" envPrefix:"CHAIN_"`
}

// StorageConfig selects how payloads are hashed and stored.
type StorageConfig struct {
	Algorithm    string `toml:"algorithm" env:"ALGORITHM"`
	ChunkSize    uint64 `toml:"chunk_size" env:"CHUNK_SIZE"`
	Compression  string `toml:"compression" env:"COMPRESSION"`
	CacheEntries int    `toml:"cache_entries" env:"CACHE_ENTRIES"`
	MaxPayload   int64  `toml:"max_payload" env:"MAX_PAYLOAD"`

	// Mirrors are peer base URLs that corrupted content is repaired from.
	Mirrors       []string      `toml:"mirrors" env:"MIRRORS" envSeparator:","`
	MirrorTimeout time.Duration `toml:"mirror_timeout" env:"MIRROR_TIMEOUT"`
	// MirrorDomain adds the mirrors published as _anchorstore._tcp SRV
	// records under this domain.
	MirrorDomain string `toml:"mirror_domain" env:"MIRROR_DOMAIN"`
	// MirrorDNSSEC requires the SRV answer to be authenticated by DNSUpstream.
	MirrorDNSSEC bool   `toml:"mirror_dnssec" env:"MIRROR_DNSSEC"`
	DNSUpstream  string `toml:"dns_upstream" env:"DNS_UPSTREAM"`
}

// AlertsConfig holds the alert policy and the webhook channels.
type AlertsConfig struct {
	alert.Policy
	// QueueSize bounds undelivered alerts.
	QueueSize int       `toml:"queue_size" env:"QUEUE_SIZE"`
	Webhooks  []Webhook `toml:"webhooks"`
}

// Webhook is one JSON webhook channel.
type Webhook struct {
	Name        string `toml:"name"`
	URL         string `toml:"url"`
	MinSeverity string `toml:"min_severity"`
}

// ChainConfig holds the funding key and fee settings of the chain bridge.
type ChainConfig struct {
	// KeyFile holds the encrypted funding wallet. Relative paths are
	// resolved against DataDir.
	KeyFile string `toml:"key_file" env:"KEY_FILE"`
	// KeyIndex selects the funding key m/44'/236'/0'/0/{key_index}.
	KeyIndex      uint32 `toml:"key_index" env:"KEY_INDEX"`
	FeeRate       uint64 `toml:"fee_rate" env:"FEE_RATE"`
	Confirmations int64  `toml:"confirmations" env:"CONFIRMATIONS"`
	// VerifyProofs checks a merkle inclusion proof before an anchor is
	// recorded as confirmed.
	VerifyProofs bool `toml:"verify_proofs" env:"VERIFY_PROOFS"`

	// Passphrase unlocks KeyFile. It is read from the environment only.
	Passphrase string `toml:"-" json:"-" env:"PASSPHRASE"`
}

// DefaultDataDir returns ~/.anchorstore, or .anchorstore in the working
// directory when the home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".anchorstore"
	}
	return filepath.Join(home, ".anchorstore")
}

// ConfigPath returns the configuration file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	return Config{
		DataDir:   DefaultDataDir(),
		Network:   "regtest",
		LogLevel:  "info",
		LogFormat: "console",
		Storage: StorageConfig{
			Algorithm:     "blake3",
			ChunkSize:     1 << 20,
			Compression:   "none",
			CacheEntries:  128,
			MaxPayload:    1 << 30,
			MirrorTimeout: 30 * time.Second,
		},
		Engine: monitor.DefaultConfig(),
		Alerts: AlertsConfig{
			Policy:    alert.DefaultPolicy(),
			QueueSize: 256,
		},
		Chain: ChainConfig{
			KeyFile:       "anchor.key",
			FeeRate:       1,
			Confirmations: 1,
			VerifyProofs:  true,
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults. Keys the file
// does not set keep their default values; unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfigFile, path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays ANCHOR_-prefixed variables from environ onto cfg. A nil
// environ reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Load resolves the effective configuration: defaults, then the file at path
// when it exists, then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, ErrConfigNotFound) {
		cfg = DefaultConfig()
	} else if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg, nil); err != nil {
		return Config{}, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# anchorstore configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// KeyPath returns the absolute path of the funding key file.
func (c Config) KeyPath() string {
	if c.Chain.KeyFile == "" || filepath.IsAbs(c.Chain.KeyFile) {
		return c.Chain.KeyFile
	}
	return filepath.Join(c.DataDir, c.Chain.KeyFile)
}

// DBPath returns the path of the bbolt database.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "anchorstore.db")
}
