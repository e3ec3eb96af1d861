package vm

import (
	"fmt"

	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
)

// Register calling convention for built-ins: inputs come from registers
// a, b, c… — the first input is %a, the second %b, the third %c. A
// built-in that returns a value writes it back into %a unless noted
// otherwise. This file and its siblings (builtins_fs.go,
// builtins_authdb.go, builtins_augeas.go, builtins_env.go,
// builtins_exec.go, builtins_remote.go, builtins_misc.go) implement the
// whole built-in function table.
const (
	regA = 0
	regB = 1
	regC = 2
)

func (v *VM) regVal(i uint32) uint32  { return v.regs[i] }
func (v *VM) regStr(i uint32) string  { return v.resolveAddress(v.regs[i]) }
func (v *VM) setResult(s string)      { v.regs[regA] = v.heap.alloc(s) }
func (v *VM) setResultVal(n uint32)   { v.regs[regA] = n }
func (v *VM) ok()                     { v.acc = 0 }
func (v *VM) fail()                   { v.acc = 1 }

// execBuiltin dispatches a zero-operand built-in opcode.
func (v *VM) execBuiltin(op bytecode.Op) error {
	name := bytecode.BuiltinName(op)
	switch {
	case isFSBuiltin(name):
		return v.execFSBuiltin(name)
	case isAuthdbBuiltin(name):
		return v.execAuthdbBuiltin(name)
	case isAugeasBuiltin(name):
		return v.execAugeasBuiltin(name)
	case isEnvBuiltin(name):
		return v.execEnvBuiltin(name)
	case isExecBuiltin(name):
		return v.execExecBuiltin(name)
	case isRemoteBuiltin(name):
		return v.execRemoteBuiltin(name)
	case isMiscBuiltin(name):
		return v.execMiscBuiltin(name)
	default:
		return fmt.Errorf("unhandled built-in %q", name)
	}
}
