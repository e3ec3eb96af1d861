// Package vm implements the Pendulum bytecode interpreter: registers,
// bounded stacks, a linked heap, and the built-in function library that
// bytecode compiled by pkg/assembler calls into.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
	"github.com/clockwork-mesh/clockwork/pkg/authdb"
	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
	"github.com/clockwork-mesh/clockwork/pkg/command"
)

// RemotePeer is the narrow interface the remote.* built-ins call into;
// cmd/cwa supplies a pkg/wire-backed implementation, tests supply a fake.
type RemotePeer interface {
	Live() bool
	SHA1(key string) (string, error)
	Fetch(key string) (io.ReadCloser, error)
}

// dirIter is the state behind one fs.opendir handle.
type dirIter struct {
	names []string
	pos   int
}

// VM is one Pendulum execution context. It is not safe for concurrent
// use; the mesh agent (C7) creates a fresh VM per command run.
type VM struct {
	code    []byte
	static0 int
	pc      uint32
	halted  bool

	regs [16]uint32
	acc  uint32
	tryc uint32

	dstack *boundedStack[uint32]
	istack *boundedStack[uint32]
	tstack *boundedStack[uint32]
	rstack *boundedStack[regSnapshot]

	heap *heap

	flags      map[string]bool
	pragma     map[string]string
	properties map[string]uint32

	topic      string
	topicCount int

	acls command.List

	db       *authdb.DB
	dbRoot   string
	curUser  *authdb.User
	curGroup *authdb.Group

	dirs    map[uint32]*dirIter
	nextDir uint32

	lastStat *unix.Stat_t

	umask    int
	euid     int
	egid     int
	runUID   int
	runGID   int
	logLevel int

	peer RemotePeer

	augeasActive  bool
	augeasLastErr string

	Stdout io.Writer
	Stderr io.Writer
	Trace  bool

	// LocalSysPrefix is the configured helper command prefix the
	// localsys built-in runs.
	LocalSysPrefix string
	// DiffTool, if set, is run over (tmpfile, target) before remote.file
	// atomically installs its result.
	DiffTool string
}

// New builds a VM with empty state; call Load before Run.
func New() *VM {
	return &VM{
		dstack:     newBoundedStack[uint32]("dstack"),
		istack:     newBoundedStack[uint32]("istack"),
		tstack:     newBoundedStack[uint32]("tstack"),
		rstack:     newBoundedStack[regSnapshot]("rstack"),
		heap:       newHeap(),
		flags:      map[string]bool{},
		pragma:     map[string]string{},
		properties: map[string]uint32{},
		dirs:       map[uint32]*dirIter{},
		umask:      022,
		euid:       os.Geteuid(),
		egid:       os.Getegid(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// Load validates the "pn" magic header, stores the code buffer, and
// scans to OP_EOF to find the static-data region's start.
func (v *VM) Load(code []byte) error {
	static0, err := bytecode.ScanStatic0(code)
	if err != nil {
		return fmt.Errorf("%w: vm_load: %v", errdefs.ErrInvalidArgument, err)
	}
	v.code = code
	v.static0 = static0
	v.pc = 2
	v.halted = false
	return nil
}

// Args pushes argv onto the data stack as heap-allocated strings
// followed by argc.
func (v *VM) Args(argv []string) error {
	for _, a := range argv {
		handle := v.heap.alloc(a)
		if err := v.dstack.push(handle); err != nil {
			return err
		}
	}
	return v.dstack.push(uint32(len(argv)))
}

// SetPeer wires the RemotePeer the remote.* built-ins call into; cmd/cwa
// calls this with its policy-master connection before Run.
func (v *VM) SetPeer(peer RemotePeer) { v.peer = peer }

// SetACLs seeds the "acl"/"show.acls" built-ins' rule list, letting a
// caller load a persisted local ACL list into a fresh VM before Run.
func (v *VM) SetACLs(acls command.List) { v.acls = acls }

// ACLs returns the current rule list, including any rules the program
// added at runtime via the "acl" opcode, so a caller can persist it
// after Run.
func (v *VM) ACLs() command.List { return v.acls }

// Run executes from the current PC until halt or a fatal decode error.
func (v *VM) Run() error {
	for !v.halted {
		ins, next, err := bytecode.DecodeInstruction(v.code, int(v.pc))
		if err != nil {
			return fmt.Errorf("%w: pc=%d: %v", errdefs.ErrInvalidArgument, v.pc, err)
		}
		if v.Trace {
			fmt.Fprintf(v.Stderr, "%04x: %s [%s,%s] %v %v\n", v.pc, bytecode.Name(ins.Op), ins.Fmt1, ins.Fmt2, ins.Arg1, ins.Arg2)
		}
		if ins.Op == bytecode.OpEOF {
			v.halted = true
			break
		}
		v.pc = uint32(next)
		if err := v.exec(ins); err != nil {
			return err
		}
	}
	return nil
}

// val resolves an operand to its integer value: LITERAL and ADDRESS
// pass the raw payload through, REGISTER dereferences, anything else is
// the illegal-combination sentinel.
func (v *VM) val(t bytecode.OperandType, arg bytecode.Operand) uint32 {
	switch t {
	case bytecode.Literal, bytecode.Address:
		return arg.Value
	case bytecode.Register:
		return v.regs[arg.Value&0xF]
	default:
		return 0x40000000
	}
}

// str resolves an operand to its string value: ADDRESS resolves into
// static code or the heap, REGISTER dereferences its value as an
// ADDRESS, EMBED returns its inline text, everything else is empty.
func (v *VM) str(t bytecode.OperandType, arg bytecode.Operand) string {
	switch t {
	case bytecode.Embed:
		return arg.Text
	case bytecode.Address:
		return v.resolveAddress(arg.Value)
	case bytecode.Register:
		return v.resolveAddress(v.regs[arg.Value&0xF])
	default:
		return ""
	}
}

func (v *VM) resolveAddress(addr uint32) string {
	if bytecode.IsHeapHandle(addr) {
		s, _ := v.heap.get(addr)
		return s
	}
	s, err := bytecode.StaticString(v.code, int(addr))
	if err != nil {
		return ""
	}
	return s
}

func (v *VM) setReg(idx uint32, val uint32) { v.regs[idx&0xF] = val }

// pragmaValue renders a pragma's second operand for storage: an interned
// string literal is kept as-is; a register is treated as a heap-string
// handle when it carries one (e.g. built via a prior "str" directive),
// and as a plain number otherwise.
func (v *VM) pragmaValue(t bytecode.OperandType, arg bytecode.Operand) string {
	switch t {
	case bytecode.Address, bytecode.Embed:
		return v.str(t, arg)
	case bytecode.Register:
		raw := v.regs[arg.Value&0xF]
		if bytecode.IsHeapHandle(raw) {
			s, _ := v.heap.get(raw)
			return s
		}
		return fmt.Sprintf("%d", raw)
	default:
		return fmt.Sprintf("%d", v.val(t, arg))
	}
}

func (v *VM) logger() *log.Entry {
	return log.L.WithField("component", "pendulum-vm").WithField("topic", v.topic)
}
