package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeNothing(t *testing.T) {
	cfg, err := FromFile(filepath.Join(t.TempDir(), "missing.toml"), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)

	cfg, err = FromReader(bytes.NewReader(nil), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)
}

func TestParitalConfig(t *testing.T) {
	cfgString := `
		[API]
		Timeout = "10s"

		[Ledger]
		Backend = "rpc"
		Address = "ws://ledger:4321/rpc/v0"

		[Identities.Sellers]
		seller-1 = "0xabc"
		`
	expected := DefaultNode()
	expected.API.Timeout = Duration(10 * time.Second)
	expected.Ledger.Backend = LedgerRPC
	expected.Ledger.Address = "ws://ledger:4321/rpc/v0"
	expected.Identities.Sellers = map[string]string{"seller-1": "0xabc"}

	cfg, err := FromReader(bytes.NewReader([]byte(cfgString)), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, expected, cfg)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfgString), 0644))

	cfg, err = FromFile(path, DefaultNode())
	require.NoError(t, err)
	require.Equal(t, expected, cfg)
}

func TestUnknownKey(t *testing.T) {
	_, err := FromReader(bytes.NewReader([]byte("[Ledger]\nBackned = \"rpc\"\n")), DefaultNode())
	require.Error(t, err)
}

func TestConfigCommentRoundTrip(t *testing.T) {
	b, err := ConfigComment(DefaultNode())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, []byte("# Default config:\n")))
	require.Contains(t, string(b), "[Publisher]")
	require.Contains(t, string(b), `#  ConfirmationTimeout = "5m0s"`)

	// a fully commented file decodes to the defaults
	cfg, err := FromReader(bytes.NewReader(b), DefaultNode())
	require.NoError(t, err)
	require.Equal(t, DefaultNode(), cfg)
}

func TestPublisherConfig(t *testing.T) {
	cfg := DefaultNode()
	pc := cfg.Publisher.PublisherConfig()
	require.Equal(t, 5*time.Minute, pc.ConfirmationTimeout)
	require.Equal(t, 5, pc.SubmitAttempts)

	rc := cfg.Reconciler.ReconcilerConfig()
	require.Equal(t, time.Minute, rc.Interval)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BAZAAR_LEDGER_BACKEND", "rpc")
	t.Setenv("BAZAAR_LEDGER_ADDRESS", "http://ledger:3100/rpc/v0")
	t.Setenv("BAZAAR_PUBLISHER_POLLINTERVAL", "250ms")
	t.Setenv("BAZAAR_IDENTITIES_ADDRESSES", "0xaaa,0xbbb")
	t.Setenv("BAZAAR_IDENTITIES_SELLERS", "seller-1:0xaaa")

	cfg := DefaultNode()
	require.NoError(t, ApplyEnv(cfg))

	require.Equal(t, LedgerRPC, cfg.Ledger.Backend)
	require.Equal(t, "http://ledger:3100/rpc/v0", cfg.Ledger.Address)
	require.Equal(t, Duration(250*time.Millisecond), cfg.Publisher.PollInterval)
	require.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Identities.Addresses)
	require.Equal(t, map[string]string{"seller-1": "0xaaa"}, cfg.Identities.Sellers)

	// untouched fields keep their defaults
	require.Equal(t, DefaultNode().API, cfg.API)
}
