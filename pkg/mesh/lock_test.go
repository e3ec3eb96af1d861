package mesh

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunLockExclusivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.lock")

	lock1, err := AcquireRunLock(path)
	require.NoError(t, err)

	_, err = AcquireRunLock(path)
	require.Error(t, err, "a second acquire while the first is held must fail")

	require.NoError(t, lock1.Release())

	lock2, err := AcquireRunLock(path)
	require.NoError(t, err, "acquiring after release must succeed")
	require.NoError(t, lock2.Release())
}
