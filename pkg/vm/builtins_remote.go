package vm

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var remoteBuiltins = map[string]bool{"remote.live?": true, "remote.sha1": true, "remote.file": true}

func isRemoteBuiltin(name string) bool { return remoteBuiltins[name] }

// execRemoteBuiltin implements remote.live?/remote.sha1/remote.file
// against the VM's configured RemotePeer (wired to pkg/wire's policy
// master connection by cmd/cwa; tests supply a fake).
func (v *VM) execRemoteBuiltin(name string) error {
	switch name {
	case "remote.live?":
		return v.predicate(v.peer != nil && v.peer.Live())

	case "remote.sha1":
		if v.peer == nil {
			v.fail()
			return nil
		}
		sum, err := v.peer.SHA1(v.regStr(regA))
		if err != nil {
			v.fail()
			return nil
		}
		v.setResult(sum)
		v.ok()
		return nil

	case "remote.file":
		return v.remoteFile(v.regStr(regA), v.regStr(regB))
	}
	return nil
}

func (v *VM) remoteFile(key, path string) error {
	if v.peer == nil {
		v.fail()
		return nil
	}
	rc, err := v.peer.Fetch(key)
	if err != nil {
		v.fail()
		return nil
	}
	defer rc.Close()

	priorMode := os.FileMode(0o644)
	priorUID, priorGID := -1, -1
	var st unix.Stat_t
	if unix.Stat(path, &st) == nil {
		priorMode = os.FileMode(st.Mode) & os.ModePerm
		priorUID, priorGID = int(st.Uid), int(st.Gid)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".clockwork-remote-*")
	if err != nil {
		v.fail()
		return nil
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		v.fail()
		return nil
	}
	tmp.Close()
	if err := os.Chmod(tmpPath, priorMode); err != nil {
		os.Remove(tmpPath)
		v.fail()
		return nil
	}

	if v.DiffTool != "" {
		exec.Command(v.DiffTool, tmpPath, path).Run() //nolint:errcheck
	}

	if priorUID >= 0 {
		unix.Chown(tmpPath, priorUID, priorGID) //nolint:errcheck
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		v.fail()
		return nil
	}
	v.ok()
	return nil
}
