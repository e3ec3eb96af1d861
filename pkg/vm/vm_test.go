package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
)

// asm is a tiny instruction-list builder for hand-assembled test images;
// it mirrors what pkg/assembler's second pass emits, without going
// through the lexer/parser for tests that only care about VM semantics.
// Addresses into the static pool are absolute offsets into the final
// image (code followed by static data), matching pkg/assembler/compile.go's
// staticPool; internRef records where to patch that absolute value in
// once the code length is known.
type asm struct {
	ins    []bytecode.Instruction
	static []byte

	internRefs []internRef
}

type internRef struct {
	instrIdx int
	argNum   int // 1 or 2
	relOff   uint32
}

// intern reserves a NUL-terminated slot in the static pool and returns a
// relative offset to be patched to an absolute one in build().
func (a *asm) intern(s string) uint32 {
	off := len(a.static)
	a.static = append(a.static, []byte(s)...)
	a.static = append(a.static, 0)
	return uint32(off)
}

// addrArg1/addrArg2 mark an already-added instruction's operand as an
// interned-string address needing the static-pool base added once the
// code length is known.
func (a *asm) addrArg1(relOff uint32) { a.internRefs = append(a.internRefs, internRef{len(a.ins) - 1, 1, relOff}) }
func (a *asm) addrArg2(relOff uint32) { a.internRefs = append(a.internRefs, internRef{len(a.ins) - 1, 2, relOff}) }

func (a *asm) add(i bytecode.Instruction) { a.ins = append(a.ins, i) }

func reg(idx uint32) bytecode.Operand  { return bytecode.Operand{Type: bytecode.Register, Value: idx} }
func lit(v uint32) bytecode.Operand    { return bytecode.Operand{Type: bytecode.Literal, Value: v} }
func embed(s string) bytecode.Operand  { return bytecode.Operand{Type: bytecode.Embed, Text: s} }
func addr(off uint32) bytecode.Operand { return bytecode.Operand{Type: bytecode.Address, Value: off} }

func (a *asm) build(t *testing.T) []byte {
	t.Helper()
	a.add(bytecode.Instruction{Op: bytecode.OpEOF})

	base := 2
	for _, ins := range a.ins {
		buf, err := ins.Encode(nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		base += len(buf)
	}
	for _, ref := range a.internRefs {
		abs := uint32(base) + ref.relOff
		if ref.argNum == 1 {
			a.ins[ref.instrIdx].Arg1.Value = abs
		} else {
			a.ins[ref.instrIdx].Arg2.Value = abs
		}
	}

	img, err := bytecode.NewImage(a.ins, a.static)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img
}

func loadVM(t *testing.T, img []byte) *VM {
	t.Helper()
	v := New()
	if err := v.Load(img); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return v
}

func TestVMSetAddDispatch(t *testing.T) {
	a := &asm{}
	// set %a, 5
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(5)})
	// add %a, 3
	a.add(bytecode.Instruction{Op: bytecode.OpAdd, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(3)})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.regs[0] != 8 {
		t.Fatalf("expected %%a == 8, got %d", v.regs[0])
	}
}

func TestVMDivByZeroSetsAccNotFatal(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(10)})
	a.add(bytecode.Instruction{Op: bytecode.OpDiv, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(0)})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.acc != 1 {
		t.Fatalf("expected acc == 1 after div by zero, got %d", v.acc)
	}
	if v.regs[0] != 10 {
		t.Fatalf("expected %%a unchanged at 10, got %d", v.regs[0])
	}
}

func TestVMPredicateAndJz(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(4)})
	// eq %a, 4 -> acc = 0
	a.add(bytecode.Instruction{Op: bytecode.OpEq, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(4)})
	// jz over the "failure" set
	jzIdx := len(a.ins)
	a.add(bytecode.Instruction{Op: bytecode.OpJz, Fmt1: bytecode.Literal, Arg1: lit(0)}) // patched below
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(1), Arg2: lit(99)}) // should be skipped
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	// Compute byte offsets manually by encoding progressively.
	offsets := make([]int, len(a.ins)+1)
	cur := 2
	for i, ins := range a.ins {
		offsets[i] = cur
		buf, err := ins.Encode(nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		cur += len(buf)
	}
	offsets[len(a.ins)] = cur
	// target: just past the skipped "set %b,99" instruction, i.e. the halt.
	haltIdx := len(a.ins) - 1
	a.ins[jzIdx].Arg1 = lit(uint32(offsets[haltIdx]))

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.regs[1] != 0 {
		t.Fatalf("expected %%b to remain 0 (jz taken), got %d", v.regs[1])
	}
}

func TestVMCallRetRoundTrip(t *testing.T) {
	a := &asm{}
	// main: call helper; halt
	callIdx := len(a.ins)
	a.add(bytecode.Instruction{Op: bytecode.OpCall, Fmt1: bytecode.Literal, Arg1: lit(0)}) // patched
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	offsets := make([]int, 0)
	cur := 2
	for _, ins := range a.ins {
		offsets = append(offsets, cur)
		buf, _ := ins.Encode(nil)
		cur += len(buf)
	}
	helperOffset := cur
	a.ins[callIdx].Arg1 = lit(uint32(helperOffset))

	// helper: set %c, 42; ret %c — call/ret snapshot the whole register
	// file (16 GP registers plus PC), so a callee's register writes do
	// not leak back to the caller; only acc (set here from %c before
	// the snapshot is restored) crosses the call boundary directly.
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(2), Arg2: lit(42)})
	a.add(bytecode.Instruction{Op: bytecode.OpRet, Fmt1: bytecode.Register, Arg1: reg(2)})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.acc != 42 {
		t.Fatalf("expected acc == 42 from ret %%c, got %d", v.acc)
	}
	if v.regs[2] != 0 {
		t.Fatalf("expected %%c to be restored to the caller's snapshot (0) after ret, got %d", v.regs[2])
	}
}

func TestVMTryBailUnwinds(t *testing.T) {
	a := &asm{}
	callIdx := len(a.ins)
	a.add(bytecode.Instruction{Op: bytecode.OpTry, Fmt1: bytecode.Literal, Arg1: lit(0)}) // patched
	// after try returns normally (via bail), %d should be set to mark we got here
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(3), Arg2: lit(7)})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	offsets := make([]int, 0)
	cur := 2
	for _, ins := range a.ins {
		offsets = append(offsets, cur)
		buf, _ := ins.Encode(nil)
		cur += len(buf)
	}
	tryBodyOffset := cur
	a.ins[callIdx].Arg1 = lit(uint32(tryBodyOffset))

	// try body: set %a, 1; bail %a — bail propagates its operand into acc
	// before the register snapshot is restored, so acc carries the 1 out
	// but %a itself reverts to the caller's pre-try value (0).
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(1)})
	a.add(bytecode.Instruction{Op: bytecode.OpBail, Fmt1: bytecode.Register, Arg1: reg(0)})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.acc != 1 {
		t.Fatalf("expected acc == 1 propagated from bail %%a, got %d", v.acc)
	}
	if v.regs[0] != 0 {
		t.Fatalf("expected %%a to be restored to the caller's snapshot (0) after bail, got %d", v.regs[0])
	}
	if v.regs[3] != 7 {
		t.Fatalf("expected execution to resume after the try on bail, %%d == 7, got %d", v.regs[3])
	}
}

func TestVMStrFormatDirectives(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(255)})
	a.add(bytecode.Instruction{Op: bytecode.OpTopic, Fmt1: bytecode.Embed, Arg1: embed("demo")})
	a.add(bytecode.Instruction{Op: bytecode.OpStr, Fmt1: bytecode.Register, Fmt2: bytecode.Embed,
		Arg1: reg(1), Arg2: embed("val=%ax topic=%T lit=%%")})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s, ok := v.heap.get(v.regs[1])
	if !ok {
		t.Fatalf("expected %%b to hold a heap handle")
	}
	if s != "val=ff topic=demo lit=%" {
		t.Fatalf("unexpected rendered string: %q", s)
	}
}

func TestVMFlagFlaggedPredicate(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpFlag, Fmt1: bytecode.Embed, Arg1: embed("maintenance")})
	a.add(bytecode.Instruction{Op: bytecode.OpFlagged, Fmt1: bytecode.Embed, Arg1: embed("maintenance")})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.flags["maintenance"] {
		t.Fatalf("expected flag to be set")
	}
	if v.acc != 0 {
		t.Fatalf("expected flagged? predicate to report acc==0 for a set flag, got %d", v.acc)
	}
}

func TestVMAclOpcodeParsesAndStores(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpAcl, Fmt1: bytecode.Embed, Arg1: embed(`allow alice "*"`)})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(v.acls) != 1 {
		t.Fatalf("expected one parsed ACL rule, got %d", len(v.acls))
	}
	if v.acc != 0 {
		t.Fatalf("expected acc == 0 on successful parse, got %d", v.acc)
	}
}

func TestVMAclOpcodeRejectsBadRule(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpAcl, Fmt1: bytecode.Embed, Arg1: embed("not a valid rule at all !!")})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(v.acls) != 0 {
		t.Fatalf("expected no ACL rule to be stored on parse failure")
	}
	if v.acc != 1 {
		t.Fatalf("expected acc == 1 on parse failure, got %d", v.acc)
	}
}

func TestVMPragmaStoresInternedStringLiteral(t *testing.T) {
	a := &asm{}
	keyOff := a.intern("authdb.root")
	valOff := a.intern("/srv/fixtures/etc")
	a.add(bytecode.Instruction{Op: bytecode.OpPragma, Fmt1: bytecode.Address, Fmt2: bytecode.Address,
		Arg1: addr(0), Arg2: addr(0)})
	a.addrArg1(keyOff)
	a.addrArg2(valOff)
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := v.pragma["authdb.root"]; got != "/srv/fixtures/etc" {
		t.Fatalf("expected pragma authdb.root == /srv/fixtures/etc, got %q", got)
	}
}

func TestVMPushPopRoundTrip(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpPush, Fmt1: bytecode.Literal, Arg1: lit(123)})
	a.add(bytecode.Instruction{Op: bytecode.OpPop, Fmt1: bytecode.Register, Arg1: reg(4)})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.regs[4] != 123 {
		t.Fatalf("expected %%e == 123 after push/pop, got %d", v.regs[4])
	}
}

func TestVMDstackUnderflowReportsThroughAcc(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpPop, Fmt1: bytecode.Register, Arg1: reg(0)})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.acc != 1 {
		t.Fatalf("expected acc == 1 on dstack underflow, got %d", v.acc)
	}
}

func TestVMCallStackOverflowHaltsWithAccSet(t *testing.T) {
	a := &asm{}
	// call to self: every iteration pushes another rstack
	// frame until the bounded stack overflows. Like a dstack
	// under/overflow, this is fatal but not a decode fault: the run
	// halts with acc == 1 instead of Run returning a Go error.
	a.add(bytecode.Instruction{Op: bytecode.OpCall, Fmt1: bytecode.Literal, Arg1: lit(2)})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.halted {
		t.Fatalf("expected VM to be halted after rstack overflow")
	}
	if v.acc != 1 {
		t.Fatalf("expected acc == 1 after rstack overflow, got %d", v.acc)
	}
}

func TestVMBareRetAtTopLevelHaltsNormally(t *testing.T) {
	// Entry is via "jmp @main" (pkg/assembler/compile.go), never "call",
	// so istack is empty when a top-level "fn main ... ret" executes its
	// final ret. This is the idiomatic, documented way every policy
	// program ends and must complete normally, not fail.
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpSet, Fmt1: bytecode.Register, Fmt2: bytecode.Literal,
		Arg1: reg(0), Arg2: lit(42)})
	a.add(bytecode.Instruction{Op: bytecode.OpRet})

	v := loadVM(t, a.build(t))
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.halted {
		t.Fatalf("expected VM to be halted after top-level ret")
	}
	if v.regs[0] != 42 {
		t.Fatalf("expected %%a == 42, got %d", v.regs[0])
	}
	if v.acc != 0 {
		t.Fatalf("expected acc == 0 after a plain top-level ret, got %d", v.acc)
	}
}

func TestVMPrintWritesFormattedLine(t *testing.T) {
	a := &asm{}
	a.add(bytecode.Instruction{Op: bytecode.OpPrint, Fmt1: bytecode.Embed, Arg1: embed("hello world")})
	a.add(bytecode.Instruction{Op: bytecode.OpHalt})

	var out bytes.Buffer
	v := loadVM(t, a.build(t))
	v.Stdout = &out
	if err := v.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "hello world" {
		t.Fatalf("unexpected stdout: %q", out.String())
	}
}

func TestVMArgsPushesArgvThenArgc(t *testing.T) {
	v := New()
	if err := v.Args([]string{"one", "two"}); err != nil {
		t.Fatalf("Args: %v", err)
	}
	argc, err := v.dstack.pop()
	if err != nil {
		t.Fatalf("pop argc: %v", err)
	}
	if argc != 2 {
		t.Fatalf("expected argc == 2, got %d", argc)
	}
	top, err := v.dstack.pop()
	if err != nil {
		t.Fatalf("pop top arg: %v", err)
	}
	s, ok := v.heap.get(top)
	if !ok || s != "two" {
		t.Fatalf("expected top of dstack to be heap string \"two\", got %q ok=%v", s, ok)
	}
}
