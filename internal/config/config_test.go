package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proxide/proxide/internal/config"
	"github.com/proxide/proxide/internal/perr"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Config{}, cfg)
}

func TestLoadEmptyPathReturnsZeroValue(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Config{}, cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxide.yaml")
	upstreamTLS := true
	want := config.Config{
		ListenAddr:   "127.0.0.1:8080",
		CADir:        "/tmp/proxide-ca",
		DirectTarget: "example.com:443",
		UpstreamTLS:  &upstreamTLS,
	}

	require.NoError(t, config.Save(path, want))

	got, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, want.ListenAddr, got.ListenAddr)
	require.Equal(t, want.CADir, got.CADir)
	require.Equal(t, want.DirectTarget, got.DirectTarget)
	require.NotNil(t, got.UpstreamTLS)
	require.Equal(t, *want.UpstreamTLS, *got.UpstreamTLS)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [this is not valid"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	require.True(t, perr.Is(err, perr.ConfigError))
}
