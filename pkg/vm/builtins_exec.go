package vm

import (
	"bufio"
	"os/exec"
	"strings"
	"syscall"
)

var execBuiltins = map[string]bool{
	"runas.uid": true, "runas.gid": true, "exec": true, "localsys": true,
}

func isExecBuiltin(name string) bool { return execBuiltins[name] }

// execExecBuiltin implements runas.uid/runas.gid/exec/localsys.
// runas.uid/runas.gid only take effect for the process owner (euid 0);
// otherwise the credential override is silently skipped and the command
// runs as the current user, matching how every other built-in in this
// VM degrades rather than fatals on a permission shortfall.
func (v *VM) execExecBuiltin(name string) error {
	switch name {
	case "runas.uid":
		v.runUID = int(v.regVal(regA))
		v.ok()
		return nil
	case "runas.gid":
		v.runGID = int(v.regVal(regA))
		v.ok()
		return nil
	case "exec":
		return v.runShell(v.regStr(regA))
	case "localsys":
		args := v.regStr(regA)
		cmdline := args
		if v.LocalSysPrefix != "" {
			cmdline = v.LocalSysPrefix + " " + args
		}
		return v.runShell(cmdline)
	}
	return nil
}

func (v *VM) runShell(cmdline string) error {
	cmd := exec.Command("/bin/sh", "-c", cmdline)
	if v.euid == 0 && (v.runUID != 0 || v.runGID != 0) {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uint32(v.runUID), Gid: uint32(v.runGID)},
		}
	}
	out, err := cmd.Output()
	firstLine := ""
	if scanner := bufio.NewScanner(strings.NewReader(string(out))); scanner.Scan() {
		firstLine = scanner.Text()
	}
	v.setResult(firstLine)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			v.acc = uint32(exitErr.ExitCode())
			return nil
		}
		v.acc = 1
		return nil
	}
	v.acc = 0
	return nil
}
