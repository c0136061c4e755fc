package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestWriteConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Moniker = "needle"
	require.NoError(t, WriteConfigFile(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// the written file must be valid TOML and round-trip the values we set
	var parsed map[string]interface{}
	require.NoError(t, toml.Unmarshal(data, &parsed))

	require.Equal(t, "needle", parsed["moniker"])
	require.Equal(t, cfg.LogLevel, parsed["log_level"])

	syncSection, ok := parsed["sync"].(map[string]interface{})
	require.True(t, ok, "missing [sync] section")
	require.Equal(t, int64(cfg.Sync.MinNumPeers), syncSection["min_num_peers"])
	require.Equal(t, cfg.Sync.SyncCheckPeriod.String(), syncSection["sync_check_period"])

	instr, ok := parsed["instrumentation"].(map[string]interface{})
	require.True(t, ok, "missing [instrumentation] section")
	require.Equal(t, cfg.Instrumentation.Namespace, instr["namespace"])
}

func TestEnsureRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")

	EnsureRoot(root)

	for _, sub := range []string{"config", "data"} {
		fi, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		require.True(t, fi.IsDir())
	}
}
