package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basehealth/x402/types"
)

const recipient = "0x4838B106FCe9647Bdf1E7877BF73cE8B0BAD5f97"

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"TIP_RECIPIENT_ADDRESS": recipient}))
	require.NoError(t, err)

	assert.Equal(t, "base-sepolia", cfg.Network)
	assert.Equal(t, 60*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.SignInFreshness)
	assert.Equal(t, 30*time.Second, cfg.TipWaitTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.CookieSecure)
	assert.Empty(t, cfg.DatabaseURL)

	x := cfg.X402Config()
	assert.Equal(t, types.NetworkBaseSepolia, x.Network)
	assert.Empty(t, x.RPCURLs)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"X402_NETWORK":            "base",
		"BASE_RPC_URL":            "https://base.example.com/rpc",
		"TIP_RECIPIENT_ADDRESS":   recipient,
		"SIGNIN_FRESHNESS_WINDOW": "5m",
		"TIP_WAIT_TIMEOUT":        "45s",
		"LOG_LEVEL":               "debug",
		"COOKIE_SECURE":           "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SignInFreshness)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, "https://base.example.com/rpc", cfg.X402Config().RPCURLs[types.NetworkBase])
}

func TestFromEnvInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing recipient": {},
		"bad recipient":     {"TIP_RECIPIENT_ADDRESS": "0x1234"},
		"bad network":       {"TIP_RECIPIENT_ADDRESS": recipient, "X402_NETWORK": "polygon"},
		"bad duration":      {"TIP_RECIPIENT_ADDRESS": recipient, "TIP_WAIT_TIMEOUT": "soon"},
		"zero duration":     {"TIP_RECIPIENT_ADDRESS": recipient, "PRICE_CACHE_TTL": "0s"},
		"bad bool":          {"TIP_RECIPIENT_ADDRESS": recipient, "ENABLE_METRICS": "maybe"},
		"bad level":         {"TIP_RECIPIENT_ADDRESS": recipient, "LOG_LEVEL": "loud"},
		"bad rpc url":       {"TIP_RECIPIENT_ADDRESS": recipient, "BASE_RPC_URL": "not a url"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			require.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TIP_RECIPIENT_ADDRESS="+recipient+"\nHTTP_ADDR=:9090\n"), 0o600))

	t.Setenv("TIP_RECIPIENT_ADDRESS", "")
	t.Setenv("HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("TIP_RECIPIENT_ADDRESS"))
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, recipient, cfg.TipRecipient)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("TIP_RECIPIENT_ADDRESS", recipient)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
