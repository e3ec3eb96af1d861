package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clockwork-mesh/clockwork/pkg/command"
)

func TestLoadServerOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	doc := `
router_addr = "0.0.0.0:9000"
cache_size = 10
cache_ttl = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RouterAddr)
	require.Equal(t, 10, cfg.CacheSize)
	require.Equal(t, time.Minute, cfg.CacheTTL)
	// Unset fields keep their defaults.
	require.Equal(t, "/etc/clockwork/acl", cfg.ACLPath)
}

func TestAgentDispositionParses(t *testing.T) {
	a := DefaultAgent()
	a.DefaultDisposition = "deny"
	d, err := a.Disposition()
	require.NoError(t, err)
	require.Equal(t, command.Deny, d)

	a.DefaultDisposition = "bogus"
	_, err = a.Disposition()
	require.Error(t, err)
}
