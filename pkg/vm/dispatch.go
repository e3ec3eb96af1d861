package vm

import (
	"fmt"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
)

// exec dispatches one decoded instruction. Only a decode-level fault (a
// jump target outside the code buffer, an unhandled opcode) returns an
// error out of Run; every stack under/overflow — dstack via OpPush/OpPop,
// istack/rstack/tstack via call/ret/bail — halts with acc=1 instead. A
// built-in's own failure is likewise reported through acc, which every
// handler sets on completion.
func (v *VM) exec(ins bytecode.Instruction) error {
	if bytecode.IsBuiltin(ins.Op) {
		return v.execBuiltin(ins.Op)
	}
	switch ins.Op {
	case bytecode.OpNoop:
		return nil

	case bytecode.OpSet:
		v.setReg(ins.Arg1.Value, v.val(ins.Fmt2, ins.Arg2))
		return nil
	case bytecode.OpAdd:
		v.setReg(ins.Arg1.Value, v.regs[ins.Arg1.Value&0xF]+v.val(ins.Fmt2, ins.Arg2))
		return nil
	case bytecode.OpSub:
		v.setReg(ins.Arg1.Value, v.regs[ins.Arg1.Value&0xF]-v.val(ins.Fmt2, ins.Arg2))
		return nil
	case bytecode.OpMul:
		v.setReg(ins.Arg1.Value, v.regs[ins.Arg1.Value&0xF]*v.val(ins.Fmt2, ins.Arg2))
		return nil
	case bytecode.OpDiv:
		divisor := v.val(ins.Fmt2, ins.Arg2)
		if divisor == 0 {
			v.acc = 1
			return nil
		}
		v.setReg(ins.Arg1.Value, v.regs[ins.Arg1.Value&0xF]/divisor)
		return nil
	case bytecode.OpMod:
		divisor := v.val(ins.Fmt2, ins.Arg2)
		if divisor == 0 {
			v.acc = 1
			return nil
		}
		v.setReg(ins.Arg1.Value, v.regs[ins.Arg1.Value&0xF]%divisor)
		return nil

	case bytecode.OpEq:
		return v.predicate(v.val(ins.Fmt1, ins.Arg1) == v.val(ins.Fmt2, ins.Arg2))
	case bytecode.OpNe:
		return v.predicate(v.val(ins.Fmt1, ins.Arg1) != v.val(ins.Fmt2, ins.Arg2))
	case bytecode.OpGt:
		return v.predicate(v.val(ins.Fmt1, ins.Arg1) > v.val(ins.Fmt2, ins.Arg2))
	case bytecode.OpGte:
		return v.predicate(v.val(ins.Fmt1, ins.Arg1) >= v.val(ins.Fmt2, ins.Arg2))
	case bytecode.OpLt:
		return v.predicate(v.val(ins.Fmt1, ins.Arg1) < v.val(ins.Fmt2, ins.Arg2))
	case bytecode.OpLte:
		return v.predicate(v.val(ins.Fmt1, ins.Arg1) <= v.val(ins.Fmt2, ins.Arg2))
	case bytecode.OpStrEq:
		return v.predicate(v.str(ins.Fmt1, ins.Arg1) == v.str(ins.Fmt2, ins.Arg2))

	case bytecode.OpJmp:
		return v.jumpTo(ins.Arg1.Value)
	case bytecode.OpJz:
		if v.acc == 0 {
			return v.jumpTo(ins.Arg1.Value)
		}
		return nil
	case bytecode.OpJnz:
		if v.acc != 0 {
			return v.jumpTo(ins.Arg1.Value)
		}
		return nil
	case bytecode.OpOk:
		v.acc = 0
		return nil
	case bytecode.OpNotOk:
		v.acc = 1
		return nil

	case bytecode.OpCall:
		return v.call(ins.Arg1.Value, false)
	case bytecode.OpTry:
		return v.call(ins.Arg1.Value, true)
	case bytecode.OpRet:
		if ins.Fmt1 != bytecode.None {
			v.acc = v.val(ins.Fmt1, ins.Arg1)
		}
		return v.ret()
	case bytecode.OpBail:
		v.acc = v.val(ins.Fmt1, ins.Arg1)
		return v.bail()

	case bytecode.OpStr:
		rendered := v.format(v.str(ins.Fmt2, ins.Arg2))
		v.setReg(ins.Arg1.Value, v.heap.alloc(rendered))
		v.acc = 0
		return nil

	case bytecode.OpTopic:
		v.topic = v.str(ins.Fmt1, ins.Arg1)
		v.topicCount++
		v.acc = 0
		return nil

	case bytecode.OpFlag:
		v.flags[v.str(ins.Fmt1, ins.Arg1)] = true
		v.acc = 0
		return nil
	case bytecode.OpUnflag:
		delete(v.flags, v.str(ins.Fmt1, ins.Arg1))
		v.acc = 0
		return nil
	case bytecode.OpFlagged:
		return v.predicate(v.flags[v.str(ins.Fmt1, ins.Arg1)])

	case bytecode.OpAcl:
		return v.opAcl(v.str(ins.Fmt1, ins.Arg1))
	case bytecode.OpShowAcls:
		v.showACLs("")
		v.acc = 0
		return nil
	case bytecode.OpShowAcl:
		v.showACLs(v.str(ins.Fmt1, ins.Arg1))
		v.acc = 0
		return nil

	case bytecode.OpPush:
		v.acc = 0
		if err := v.dstack.push(v.val(ins.Fmt1, ins.Arg1)); err != nil {
			v.halted = true
			v.acc = 1
		}
		return nil
	case bytecode.OpPop:
		val, err := v.dstack.pop()
		if err != nil {
			v.halted = true
			v.acc = 1
			return nil
		}
		v.setReg(ins.Arg1.Value, val)
		v.acc = 0
		return nil

	case bytecode.OpPragma:
		v.pragma[v.str(ins.Fmt1, ins.Arg1)] = v.pragmaValue(ins.Fmt2, ins.Arg2)
		v.acc = 0
		return nil
	case bytecode.OpProperty:
		v.properties[v.str(ins.Fmt1, ins.Arg1)] = v.val(ins.Fmt2, ins.Arg2)
		v.acc = 0
		return nil

	case bytecode.OpPrint:
		fmt.Fprintln(v.Stdout, v.format(v.str(ins.Fmt1, ins.Arg1)))
		v.acc = 0
		return nil
	case bytecode.OpError:
		msg := v.format(v.str(ins.Fmt1, ins.Arg1))
		fmt.Fprintln(v.Stderr, msg)
		v.logger().Error(msg)
		v.acc = 0
		return nil
	case bytecode.OpPerror:
		msg := v.format(v.str(ins.Fmt1, ins.Arg1))
		fmt.Fprintln(v.Stderr, msg)
		v.logger().Error(msg)
		v.acc = 0
		return nil
	case bytecode.OpSyslog:
		return v.opSyslog(ins)
	case bytecode.OpDump:
		v.dump()
		v.acc = 0
		return nil
	case bytecode.OpHalt:
		v.halted = true
		return nil
	case bytecode.OpAnno:
		return nil

	default:
		return fmt.Errorf("%w: unhandled opcode %d", errdefs.ErrInvalidArgument, ins.Op)
	}
}

func (v *VM) predicate(ok bool) error {
	if ok {
		v.acc = 0
	} else {
		v.acc = 1
	}
	return nil
}

func (v *VM) jumpTo(addr uint32) error {
	if int(addr) < 2 || int(addr) >= len(v.code) {
		return fmt.Errorf("%w: jump target %d out of range", errdefs.ErrInvalidArgument, addr)
	}
	v.pc = addr
	return nil
}

// call and ret/bail are paired: an istack/rstack/tstack over/underflow
// here is never a decode-level fault, it is fatal in the same sense a
// dstack under/overflow is (OpPush/OpPop above) — halt with acc=1
// rather than returning an error out of Run.
func (v *VM) call(addr uint32, isTry bool) error {
	if err := v.rstack.push(regSnapshot(v.regs)); err != nil {
		v.halted = true
		v.acc = 1
		return nil
	}
	if err := v.istack.push(v.pc); err != nil {
		v.halted = true
		v.acc = 1
		return nil
	}
	if isTry {
		if err := v.tstack.push(v.tryc); err != nil {
			v.halted = true
			v.acc = 1
			return nil
		}
		v.tryc = v.pc
	}
	return v.jumpTo(addr)
}

func (v *VM) ret() error {
	if v.istack.empty() {
		// Nothing to return to: this is the top-level ret ending a
		// program entered via jmp rather than call, the ordinary way
		// every "fn main ... ret" program terminates.
		v.halted = true
		return nil
	}
	poppedPC, err := v.istack.pop()
	if err != nil {
		v.halted = true
		v.acc = 1
		return nil
	}
	if poppedPC == v.tryc {
		prior, err := v.tstack.pop()
		if err != nil {
			v.halted = true
			v.acc = 1
			return nil
		}
		v.tryc = prior
	}
	snap, err := v.rstack.pop()
	if err != nil {
		v.halted = true
		v.acc = 1
		return nil
	}
	v.regs = snap
	v.pc = poppedPC
	return nil
}

// bail unwinds istack/rstack up to and including the current try frame.
func (v *VM) bail() error {
	if v.tstack.empty() && v.tryc == 0 {
		v.halted = true
		return nil
	}
	for {
		pc, err := v.istack.pop()
		if err != nil {
			v.halted = true
			v.acc = 1
			return nil
		}
		snap, err := v.rstack.pop()
		if err != nil {
			v.halted = true
			v.acc = 1
			return nil
		}
		v.regs = snap
		if pc == v.tryc {
			prior, err := v.tstack.pop()
			if err != nil {
				v.halted = true
				v.acc = 1
				return nil
			}
			v.tryc = prior
			v.pc = pc
			return nil
		}
	}
}
