package vm

import (
	"fmt"

	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
	"github.com/clockwork-mesh/clockwork/pkg/command"
)

// opAcl parses rule and appends it to the VM's ACL list, implementing
// the "acl \"rule\"" opcode.
func (v *VM) opAcl(rule string) error {
	parsed, ok := command.ParseRule(rule)
	if !ok {
		v.acc = 1
		return nil
	}
	v.acls = append(v.acls, parsed)
	v.acc = 0
	return nil
}

// showACLs writes rules to stdout, optionally filtered to one user's
// matching rules when user is non-empty (show.acl USER).
func (v *VM) showACLs(user string) {
	for _, r := range v.acls {
		if user != "" && r.Target != user {
			continue
		}
		fmt.Fprintln(v.Stdout, r.Canonical())
	}
}

var syslogLevelNames = map[uint32]string{
	0: "emerg", 1: "alert", 2: "crit", 3: "err",
	4: "warning", 5: "notice", 6: "info", 7: "debug",
}

// opSyslog handles "syslog LEVEL, \"fmt\"". LEVEL arrives as a LITERAL
// priority number (resolved from a bare identifier at compile time via
// assembler.SyslogLevels); the message is logged through the VM's
// structured logger with that level attached as a field, since the
// Pendulum VM has no direct unix syslog(3) binding in this port.
func (v *VM) opSyslog(ins bytecode.Instruction) error {
	level := v.val(ins.Fmt1, ins.Arg1)
	msg := v.format(v.str(ins.Fmt2, ins.Arg2))
	name, ok := syslogLevelNames[level]
	if !ok {
		name = "info"
	}
	entry := v.logger().WithField("syslog.level", name)
	if level <= 3 {
		entry.Error(msg)
	} else if level <= 4 {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}
	v.acc = 0
	return nil
}
