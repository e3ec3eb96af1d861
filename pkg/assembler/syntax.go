package assembler

// OperandKind is a bitmask of token kinds a given instruction operand
// position may accept. Multiple bits mean "any of these forms".
type OperandKind uint16

const (
	KindNone OperandKind = 0
	KindRegister OperandKind = 1 << iota
	KindNumber
	KindLabel     // identifier resolved against labels in the enclosing function
	KindFunction  // identifier resolved against the global function table
	KindOffset    // "+N"/"-N" relative to the current instruction
	KindEmbed     // string literal encoded inline (EMBED operand)
	KindIntern    // string literal interned into the static-data region (ADDRESS operand)
	KindIdent     // bare identifier used verbatim (e.g. a syslog level name)
)

// Form describes one opcode's accepted operand shapes. Arity is 0, 1, or
// 2; Op1/Op2 are the accepted kinds for each position (only meaningful up
// to Arity). A ret's single operand is optional, flagged by Optional.
type Form struct {
	Name     string
	Arity    int
	Op1      OperandKind
	Op2      OperandKind
	Optional bool // final operand may be omitted (ret, bail's acc default)
}

var stringOrReg = KindEmbed | KindRegister
var internOrReg = KindIntern | KindRegister
var numOrReg = KindNumber | KindRegister
var jumpTarget = KindLabel | KindFunction | KindOffset

// Forms is the static syntax table referenced by the parser: for every
// core mnemonic, which operand kinds it accepts. Built-ins (fs.*, user.*,
// ...) always take zero instruction operands — their inputs come from
// registers a, b, c... by calling convention — so they are not listed
// here; the parser treats any opcode absent from this table and present
// in bytecode.BuiltinNames as a zero-operand form.
var Forms = map[string]Form{
	"set": {Arity: 2, Op1: KindRegister, Op2: KindNumber | KindRegister | KindEmbed},
	"add": {Arity: 2, Op1: KindRegister, Op2: numOrReg},
	"sub": {Arity: 2, Op1: KindRegister, Op2: numOrReg},
	"mul": {Arity: 2, Op1: KindRegister, Op2: numOrReg},
	"div": {Arity: 2, Op1: KindRegister, Op2: numOrReg},
	"mod": {Arity: 2, Op1: KindRegister, Op2: numOrReg},

	"eq":  {Arity: 2, Op1: numOrReg, Op2: numOrReg},
	"ne":  {Arity: 2, Op1: numOrReg, Op2: numOrReg},
	"gt":  {Arity: 2, Op1: numOrReg, Op2: numOrReg},
	"gte": {Arity: 2, Op1: numOrReg, Op2: numOrReg},
	"lt":  {Arity: 2, Op1: numOrReg, Op2: numOrReg},
	"lte": {Arity: 2, Op1: numOrReg, Op2: numOrReg},
	"streq": {Arity: 2, Op1: stringOrReg, Op2: stringOrReg},

	"jmp": {Arity: 1, Op1: jumpTarget},
	"jz":  {Arity: 1, Op1: jumpTarget},
	"jnz": {Arity: 1, Op1: jumpTarget},
	"ok?":    {Arity: 0},
	"notok?": {Arity: 0},

	"call": {Arity: 1, Op1: KindFunction | KindLabel},
	"try":  {Arity: 1, Op1: KindFunction | KindLabel},
	"ret":  {Arity: 1, Op1: numOrReg, Optional: true},
	"bail": {Arity: 1, Op1: numOrReg, Optional: true},

	"str":      {Arity: 2, Op1: KindRegister, Op2: KindEmbed},
	"topic":    {Arity: 1, Op1: KindIntern},
	"flag":     {Arity: 1, Op1: internOrReg},
	"unflag":   {Arity: 1, Op1: internOrReg},
	"flagged?": {Arity: 1, Op1: internOrReg},

	"acl":       {Arity: 1, Op1: KindEmbed},
	"show.acls": {Arity: 0},
	"show.acl":  {Arity: 1, Op1: internOrReg},

	"push": {Arity: 1, Op1: numOrReg},
	"pop":  {Arity: 1, Op1: KindRegister},

	"pragma":   {Arity: 2, Op1: KindIntern, Op2: internOrReg},
	"property": {Arity: 2, Op1: KindIntern, Op2: KindRegister},
	"print":    {Arity: 1, Op1: KindEmbed},
	"error":    {Arity: 1, Op1: KindEmbed},
	"perror":   {Arity: 1, Op1: KindEmbed},
	"syslog":   {Arity: 2, Op1: KindIdent, Op2: KindEmbed},
	"dump":     {Arity: 0},
	"halt":     {Arity: 0},
	"noop":     {Arity: 0},
	"anno":     {Arity: 1, Op1: KindEmbed},
}

// SyslogLevels are the closed set of priority names accepted by
// syslog's first operand.
var SyslogLevels = map[string]int{
	"emerg": 0, "alert": 1, "crit": 2, "err": 3,
	"warning": 4, "notice": 5, "info": 6, "debug": 7,
}
