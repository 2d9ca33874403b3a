package network

import (
	"fmt"
	"time"
)

// RPCConfig holds the connection parameters for a node's JSON-RPC interface.
type RPCConfig struct {
	URL      string        `toml:"url" env:"URL"`
	User     string        `toml:"user" env:"USER"`
	Password string        `toml:"password" env:"PASS"`
	Network  string        `toml:"-"`
	Timeout  time.Duration `toml:"timeout" env:"TIMEOUT"`

	// WarmupWait bounds how long Call keeps retrying while the node
	// reports RPC_IN_WARMUP. Zero fails immediately.
	WarmupWait time.Duration `toml:"warmup_wait" env:"WARMUP_WAIT"`
}

// NetworkPresets contains default RPC configurations for local networks.
// Mainnet has no preset and must be configured explicitly.
var NetworkPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:18332", User: "anchor", Password: "anchor"},
	"testnet": {URL: "http://localhost:18333", User: "anchor", Password: "anchor"},
}

// ResolveConfig layers RPC settings, highest priority first:
//  1. explicit overrides (CLI flags or the config file)
//  2. environment variables ANCHOR_RPC_URL, ANCHOR_RPC_USER, ANCHOR_RPC_PASS
//  3. network presets (regtest and testnet only)
func ResolveConfig(overrides *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}
	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if v := env["ANCHOR_RPC_URL"]; v != "" {
		result.URL = v
	}
	if v := env["ANCHOR_RPC_USER"]; v != "" {
		result.User = v
	}
	if v := env["ANCHOR_RPC_PASS"]; v != "" {
		result.Password = v
	}

	if overrides != nil {
		if overrides.URL != "" {
			result.URL = overrides.URL
		}
		if overrides.User != "" {
			result.User = overrides.User
		}
		if overrides.Password != "" {
			result.Password = overrides.Password
		}
		if overrides.Timeout > 0 {
			result.Timeout = overrides.Timeout
		}
		if overrides.WarmupWait > 0 {
			result.WarmupWait = overrides.WarmupWait
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("network: %s requires explicit RPC configuration (set --rpc-url, ANCHOR_RPC_URL, or [rpc] url)", network)
	}
	return &result, nil
}
