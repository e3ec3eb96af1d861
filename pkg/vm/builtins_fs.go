package vm

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var fsBuiltins = map[string]bool{}

func init() {
	for _, n := range []string{
		"fs.stat", "fs.file?", "fs.dir?", "fs.symlink?", "fs.chardev?",
		"fs.blockdev?", "fs.fifo?", "fs.socket?", "fs.type",
		"fs.dev", "fs.inode", "fs.mode", "fs.nlink", "fs.uid", "fs.gid",
		"fs.major", "fs.minor", "fs.size", "fs.atime", "fs.mtime", "fs.ctime",
		"fs.touch", "fs.mkdir", "fs.symlink", "fs.link", "fs.unlink", "fs.rmdir",
		"fs.rename", "fs.copy", "fs.chown", "fs.chgrp", "fs.chmod",
		"fs.sha1", "fs.get", "fs.put",
		"fs.opendir", "fs.readdir", "fs.closedir",
	} {
		fsBuiltins[n] = true
	}
}

func isFSBuiltin(name string) bool { return fsBuiltins[name] }

// execFSBuiltin implements the fs.* table. Accessors (fs.dev, fs.mode,
// …) read the stat cached by the most recent fs.stat call, mirroring
// the C original's single "last stat" struct rather than re-statting on
// every accessor.
func (v *VM) execFSBuiltin(name string) error {
	switch name {
	case "fs.stat":
		var st unix.Stat_t
		if err := unix.Lstat(v.regStr(regA), &st); err != nil {
			v.lastStat = nil
			v.fail()
			return nil
		}
		v.lastStat = &st
		v.ok()
		return nil

	case "fs.file?":
		return v.statPredicate(unix.S_IFREG)
	case "fs.dir?":
		return v.statPredicate(unix.S_IFDIR)
	case "fs.symlink?":
		return v.statPredicate(unix.S_IFLNK)
	case "fs.chardev?":
		return v.statPredicate(unix.S_IFCHR)
	case "fs.blockdev?":
		return v.statPredicate(unix.S_IFBLK)
	case "fs.fifo?":
		return v.statPredicate(unix.S_IFIFO)
	case "fs.socket?":
		return v.statPredicate(unix.S_IFSOCK)

	case "fs.type":
		if v.lastStat == nil {
			v.fail()
			return nil
		}
		v.setResult(fileTypeName(v.lastStat.Mode))
		v.ok()
		return nil

	case "fs.dev":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Dev) })
	case "fs.inode":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Ino) })
	case "fs.mode":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Mode) & 0o7777 })
	case "fs.nlink":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Nlink) })
	case "fs.uid":
		return v.statField(func(st *unix.Stat_t) uint32 { return st.Uid })
	case "fs.gid":
		return v.statField(func(st *unix.Stat_t) uint32 { return st.Gid })
	case "fs.major":
		return v.statField(func(st *unix.Stat_t) uint32 { return unix.Major(uint64(st.Rdev)) })
	case "fs.minor":
		return v.statField(func(st *unix.Stat_t) uint32 { return unix.Minor(uint64(st.Rdev)) })
	case "fs.size":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Size) })
	case "fs.atime":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Atim.Sec) })
	case "fs.mtime":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Mtim.Sec) })
	case "fs.ctime":
		return v.statField(func(st *unix.Stat_t) uint32 { return uint32(st.Ctim.Sec) })

	case "fs.touch":
		return v.fsTouch()
	case "fs.mkdir":
		return v.simpleFSOp(func() error { return os.Mkdir(v.regStr(regA), os.FileMode(v.regVal(regB))&os.ModePerm) })
	case "fs.symlink":
		return v.simpleFSOp(func() error { return os.Symlink(v.regStr(regA), v.regStr(regB)) })
	case "fs.link":
		return v.simpleFSOp(func() error { return os.Link(v.regStr(regA), v.regStr(regB)) })
	case "fs.unlink":
		return v.simpleFSOp(func() error { return os.Remove(v.regStr(regA)) })
	case "fs.rmdir":
		return v.simpleFSOp(func() error { return os.Remove(v.regStr(regA)) })
	case "fs.rename":
		return v.simpleFSOp(func() error { return os.Rename(v.regStr(regA), v.regStr(regB)) })
	case "fs.copy":
		return v.simpleFSOp(func() error { return copyFile(v.regStr(regA), v.regStr(regB)) })
	case "fs.chown":
		return v.simpleFSOp(func() error { return unix.Lchown(v.regStr(regA), int(v.regVal(regB)), -1) })
	case "fs.chgrp":
		return v.simpleFSOp(func() error { return unix.Lchown(v.regStr(regA), -1, int(v.regVal(regB))) })
	case "fs.chmod":
		return v.simpleFSOp(func() error { return os.Chmod(v.regStr(regA), os.FileMode(v.regVal(regB))&os.ModePerm) })

	case "fs.sha1":
		return v.fsSHA1()
	case "fs.get":
		return v.fsGet()
	case "fs.put":
		return v.simpleFSOp(func() error { return os.WriteFile(v.regStr(regA), []byte(v.regStr(regB)), 0o644) })

	case "fs.opendir":
		return v.fsOpendir()
	case "fs.readdir":
		return v.fsReaddir()
	case "fs.closedir":
		delete(v.dirs, v.regVal(regA))
		v.ok()
		return nil
	}
	return nil
}

func (v *VM) statPredicate(want uint32) error {
	if v.lastStat == nil {
		v.fail()
		return nil
	}
	return v.predicate(v.lastStat.Mode&unix.S_IFMT == want)
}

func (v *VM) statField(f func(*unix.Stat_t) uint32) error {
	if v.lastStat == nil {
		v.fail()
		return nil
	}
	v.setResultVal(f(v.lastStat))
	v.ok()
	return nil
}

func (v *VM) simpleFSOp(op func() error) error {
	if err := op(); err != nil {
		v.fail()
		return nil
	}
	v.ok()
	return nil
}

func (v *VM) fsTouch() error {
	path := v.regStr(regA)
	now := time.Now()
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	} else {
		v.fail()
		return nil
	}
	if err := os.Chtimes(path, now, now); err != nil {
		v.fail()
		return nil
	}
	v.ok()
	return nil
}

func (v *VM) fsSHA1() error {
	f, err := os.Open(v.regStr(regA))
	if err != nil {
		v.fail()
		return nil
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		v.fail()
		return nil
	}
	v.setResult(hex.EncodeToString(h.Sum(nil)))
	v.ok()
	return nil
}

func (v *VM) fsGet() error {
	data, err := os.ReadFile(v.regStr(regA))
	if err != nil {
		v.fail()
		return nil
	}
	v.setResult(string(data))
	v.ok()
	return nil
}

func (v *VM) fsOpendir() error {
	entries, err := os.ReadDir(v.regStr(regA))
	if err != nil {
		v.fail()
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	v.nextDir++
	handle := v.nextDir
	v.dirs[handle] = &dirIter{names: names}
	v.setResultVal(handle)
	v.ok()
	return nil
}

func (v *VM) fsReaddir() error {
	it, ok := v.dirs[v.regVal(regA)]
	if !ok || it.pos >= len(it.names) {
		v.fail()
		return nil
	}
	v.setResult(it.names[it.pos])
	it.pos++
	v.ok()
	return nil
}

func fileTypeName(mode uint32) string {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return "file"
	case unix.S_IFDIR:
		return "directory"
	case unix.S_IFLNK:
		return "symlink"
	case unix.S_IFCHR:
		return "chardev"
	case unix.S_IFBLK:
		return "blockdev"
	case unix.S_IFIFO:
		return "fifo"
	case unix.S_IFSOCK:
		return "socket"
	default:
		return "unknown"
	}
}

// copyFile implements "fs.copy": a preserving byte-for-byte copy that
// carries the source's permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
