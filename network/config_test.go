package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfig(t *testing.T) {
	env := map[string]string{
		"ANCHOR_RPC_URL":  "http://env-node:18332",
		"ANCHOR_RPC_USER": "envuser",
	}
	tests := []struct {
		name      string
		network   string
		overrides *RPCConfig
		env       map[string]string
		want      RPCConfig
	}{
		{
			name:    "regtest preset",
			network: "regtest",
			want:    RPCConfig{URL: "http://localhost:18332", User: "anchor", Password: "anchor", Network: "regtest"},
		},
		{
			name:    "testnet preset",
			network: "testnet",
			want:    RPCConfig{URL: "http://localhost:18333", User: "anchor", Password: "anchor", Network: "testnet"},
		},
		{
			name:    "env over preset",
			network: "regtest",
			env:     env,
			want:    RPCConfig{URL: "http://env-node:18332", User: "envuser", Password: "anchor", Network: "regtest"},
		},
		{
			name:      "overrides over env",
			network:   "regtest",
			env:       env,
			overrides: &RPCConfig{URL: "http://flag:9999", Timeout: 5 * time.Second, WarmupWait: time.Minute},
			want: RPCConfig{
				URL: "http://flag:9999", User: "envuser", Password: "anchor", Network: "regtest",
				Timeout: 5 * time.Second, WarmupWait: time.Minute,
			},
		},
		{
			name:    "mainnet from env",
			network: "mainnet",
			env:     map[string]string{"ANCHOR_RPC_URL": "http://node:8332"},
			want:    RPCConfig{URL: "http://node:8332", Network: "mainnet"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveConfig(tt.overrides, tt.env, tt.network)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestResolveConfigMainnetHasNoPreset(t *testing.T) {
	_, ok := NetworkPresets["mainnet"]
	assert.False(t, ok)

	_, err := ResolveConfig(nil, nil, "mainnet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mainnet")
}
