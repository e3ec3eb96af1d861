package mesh

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain guards the package's goroutine-spawning surface — the
// killswitch's fsnotify watcher, the fact gatherer's singleflight calls,
// and every wire.Conn's websocket read/write pump — against leaks across
// the whole test binary.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
