package vm

import "golang.org/x/sys/unix"

var miscBuiltins = map[string]bool{"umask": true, "loglevel": true, "geteuid": true, "getegid": true}

func isMiscBuiltin(name string) bool { return miscBuiltins[name] }

func (v *VM) execMiscBuiltin(name string) error {
	switch name {
	case "umask":
		old := unix.Umask(int(v.regVal(regA)))
		v.umask = int(v.regVal(regA))
		v.setResultVal(uint32(old))
		v.ok()
		return nil
	case "loglevel":
		old := v.logLevel
		v.logLevel = int(v.regVal(regA))
		v.setResultVal(uint32(old))
		v.ok()
		return nil
	case "geteuid":
		v.setResultVal(uint32(v.euid))
		v.ok()
		return nil
	case "getegid":
		v.setResultVal(uint32(v.egid))
		v.ok()
		return nil
	}
	return nil
}
