package mesh

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, want bool, get func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for active=%v", want)
}

func TestKillswitchTracksFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "killswitch")

	k, err := NewKillswitch(path)
	require.NoError(t, err)
	defer k.Close()
	require.False(t, k.Active())

	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))
	waitUntil(t, true, k.Active)

	require.NoError(t, os.Remove(path))
	waitUntil(t, false, k.Active)
}

func TestKillswitchSeedsFromExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "killswitch")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	k, err := NewKillswitch(path)
	require.NoError(t, err)
	defer k.Close()
	require.True(t, k.Active())
}
