package bytecode

// Op is a one-byte opcode. Numeric values are assigned once, here, and
// never reused; an assembler and a VM built against the same version of
// this package always agree on them (spec requirement: opcode numeric
// values are part of the stable wire contract).
type Op byte

// Core control, stack, and predicate opcodes. These take their operands
// from the instruction stream (the Operand-s following the format byte).
const (
	OpEOF Op = iota // sentinel; format byte is always 0x00

	OpNoop
	OpSet    // set DEST, VAL            — DEST = REGISTER, VAL = LITERAL|REGISTER|ADDRESS
	OpAdd    // add DEST, VAL            — DEST += VAL
	OpSub
	OpMul
	OpDiv
	OpMod

	OpEq  // predicates: acc = 0 if true, 1 if false
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpStrEq

	OpJmp // jmp ADDR — unconditional
	OpJz  // jz  ADDR — if acc == 0
	OpJnz // jnz ADDR — if acc != 0
	OpOk  // ok?    — sets acc to 0; OpNotOk (notok?) sets acc to 1
	OpNotOk

	OpCall // call ADDR — save 16 GP registers + PC, jump
	OpTry  // try  ADDR — like call, also push try frame
	OpRet  // ret [VAL]
	OpBail // bail VAL

	OpStr    // str DEST, "fmt" — render format string into heap, store handle in DEST
	OpTopic  // topic "name"
	OpFlag   // flag "name"
	OpUnflag // unflag "name"
	OpFlagged // flagged? "name" — acc = 0 if set

	OpAcl      // acl "rule"
	OpShowAcls // show.acls
	OpShowAcl  // show.acl USER

	OpPush // dstack push
	OpPop  // dstack pop into REGISTER

	OpPragma   // pragma KEY, %reg
	OpProperty // property KEY, %reg
	OpPrint    // print "fmt"
	OpError    // error "fmt"
	OpPerror   // perror "fmt"
	OpSyslog   // syslog LEVEL, "fmt"
	OpDump     // dump
	OpHalt     // halt
	OpAnno     // anno "module:enter|exit:name" — #include boundary marker, stripped when compiled with strip=true

	// builtinBase marks the start of the built-in function library:
	// every name in BuiltinNames below gets the next sequential Op value.
	builtinBase
)

// BuiltinNames enumerates the built-in function library in table
// order. Each name becomes its own one-byte opcode (no
// instruction operands — built-ins take inputs from registers a, b, c...
// by calling convention and return in acc / a result register).
var BuiltinNames = []string{
	// filesystem
	"fs.stat", "fs.file?", "fs.dir?", "fs.symlink?", "fs.chardev?",
	"fs.blockdev?", "fs.fifo?", "fs.socket?", "fs.type",
	"fs.dev", "fs.inode", "fs.mode", "fs.nlink", "fs.uid", "fs.gid",
	"fs.major", "fs.minor", "fs.size", "fs.atime", "fs.mtime", "fs.ctime",
	"fs.touch", "fs.mkdir", "fs.symlink", "fs.link", "fs.unlink", "fs.rmdir",
	"fs.rename", "fs.copy", "fs.chown", "fs.chgrp", "fs.chmod",
	"fs.sha1", "fs.get", "fs.put",
	"fs.opendir", "fs.readdir", "fs.closedir",

	// authdb
	"authdb.open", "authdb.save", "authdb.close", "authdb.nextuid", "authdb.nextgid",
	"user.find", "user.get", "user.set", "user.new", "user.delete",
	"group.find", "group.get", "group.set", "group.new", "group.delete",

	// augeas
	"augeas.init", "augeas.done", "augeas.write", "augeas.set", "augeas.get",
	"augeas.find", "augeas.remove", "augeas.perror",

	// environment
	"env.get", "env.set", "env.unset",

	// system execution
	"runas.uid", "runas.gid", "exec", "localsys",

	// remote file fetch
	"remote.live?", "remote.sha1", "remote.file",

	// misc
	"umask", "loglevel", "geteuid", "getegid",
}

// builtinOp and builtinName give O(1) lookups between a built-in's
// mnemonic and its assigned Op. Populated in init so BuiltinNames stays
// the single source of truth.
var (
	builtinOp   = map[string]Op{}
	builtinName = map[Op]string{}
)

func init() {
	for i, name := range BuiltinNames {
		op := builtinBase + Op(i)
		builtinOp[name] = op
		builtinName[op] = name
	}
}

// LookupBuiltin returns the opcode assigned to a built-in mnemonic.
func LookupBuiltin(name string) (Op, bool) {
	op, ok := builtinOp[name]
	return op, ok
}

// BuiltinName returns the mnemonic for a built-in opcode, or "" if op is
// not a built-in.
func BuiltinName(op Op) string {
	return builtinName[op]
}

// IsBuiltin reports whether op was assigned to a built-in mnemonic.
func IsBuiltin(op Op) bool {
	_, ok := builtinName[op]
	return ok
}

var coreNames = map[Op]string{
	OpEOF: "eof", OpNoop: "noop", OpSet: "set", OpAdd: "add", OpSub: "sub",
	OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpEq: "eq", OpNe: "ne", OpGt: "gt", OpGte: "gte", OpLt: "lt", OpLte: "lte",
	OpStrEq: "streq",
	OpJmp:   "jmp", OpJz: "jz", OpJnz: "jnz", OpOk: "ok?", OpNotOk: "notok?",
	OpCall: "call", OpTry: "try", OpRet: "ret", OpBail: "bail",
	OpStr: "str", OpTopic: "topic", OpFlag: "flag", OpUnflag: "unflag",
	OpFlagged: "flagged?",
	OpAcl:     "acl", OpShowAcls: "show.acls", OpShowAcl: "show.acl",
	OpPush: "push", OpPop: "pop",
	OpPragma: "pragma", OpProperty: "property", OpPrint: "print",
	OpError: "error", OpPerror: "perror", OpSyslog: "syslog", OpDump: "dump",
	OpHalt: "halt", OpAnno: "anno",
}

// Name returns an opcode's mnemonic, whether core or built-in.
func Name(op Op) string {
	if n, ok := coreNames[op]; ok {
		return n
	}
	if n, ok := builtinName[op]; ok {
		return n
	}
	return "?"
}

// Lookup resolves any mnemonic (core or built-in) to its Op.
func Lookup(name string) (Op, bool) {
	for op, n := range coreNames {
		if n == name {
			return op, true
		}
	}
	return LookupBuiltin(name)
}
