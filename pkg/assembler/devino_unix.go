//go:build unix

package assembler

import (
	"os"
	"syscall"
)

// devInoOf extracts (device, inode) from a FileInfo on unix platforms,
// used by the #include de-duplication in preprocess.go.
func devInoOf(info os.FileInfo) (devIno, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return devIno{}, false
	}
	return devIno{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
