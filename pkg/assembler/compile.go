package assembler

import (
	"fmt"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
)

// Options controls a single Compile invocation.
type Options struct {
	// Strip omits OP_ANNO (module include boundary) instructions from
	// both the offset and emit passes.
	Strip bool
}

// flatInstr is one instruction in program order (prologue first, then
// each function's items in source order) with its resolved byte offset,
// known ahead of operand resolution since every operand form encodes to
// a fixed size once its *kind* (not its resolved value) is known.
type flatInstr struct {
	fn       *Instr // set for a real instruction; nil for the acl/EOF cases below
	acl      *AclLine
	offset   int
	size     int
	countIdx int // index into the non-anno countable sequence, for OFFSET resolution
}

// Compile runs the two-pass assembler and returns a complete bytecode
// image.
func Compile(prog *Program, opts Options) ([]byte, error) {
	labels := map[string]map[string]int{}   // function name -> label name -> byte offset
	funcOffset := map[string]int{}          // function name -> entry byte offset
	var flat []flatInstr
	var countable []int // byte offsets of non-anno instructions, in order

	emit := func(fi flatInstr) {
		fi.offset = curOffset(flat)
		fi.countIdx = len(countable)
		if fi.fn == nil || fi.fn.Mnemonic != "anno" {
			countable = append(countable, fi.offset)
		}
		flat = append(flat, fi)
	}

	// Prologue: "jmp @main".
	prologueOperands := []Token{{Kind: TokIdent, Text: "main"}}
	emit(flatInstr{fn: &Instr{Mnemonic: "jmp", Operands: prologueOperands}, size: instrSize("jmp", prologueOperands)})

	for _, f := range prog.Functions {
		funcOffset[f.Name] = curOffset(flat)
		labels[f.Name] = map[string]int{}
		for _, item := range f.Items {
			switch it := item.(type) {
			case *Label:
				labels[f.Name][it.Name] = curOffset(flat)
			case *Instr:
				if it.Mnemonic == "anno" && opts.Strip {
					continue
				}
				it.enclosingFunc = f.Name
				emit(flatInstr{fn: it, size: instrSize(it.Mnemonic, it.Operands)})
			case *AclLine:
				emit(flatInstr{acl: it, size: instrSize("acl", []Token{{Kind: TokString, Text: it.Rule}})})
			}
		}
	}
	// OP_EOF sentinel.
	eofOffset := curOffset(flat)
	flat = append(flat, flatInstr{offset: eofOffset, size: 2})

	static := &staticPool{offsets: map[string]int{}, base: eofOffset + 2}

	instructions := make([]bytecode.Instruction, 0, len(flat))
	for _, fi := range flat {
		var ins bytecode.Instruction
		var err error
		switch {
		case fi.offset == eofOffset && fi.fn == nil && fi.acl == nil:
			ins = bytecode.Instruction{Op: bytecode.OpEOF}
		case fi.acl != nil:
			ins, err = resolveInstr("acl", []Token{{Kind: TokString, Text: fi.acl.Rule}}, resolveCtx{})
		default:
			ins, err = resolveInstr(fi.fn.Mnemonic, fi.fn.Operands, resolveCtx{
				funcName:  fi.fn.enclosingFunc,
				funcs:     funcOffset,
				labels:    labels,
				countable: countable,
				countIdx:  fi.countIdx,
				static:    static,
			})
		}
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ins)
	}

	return bytecode.NewImage(instructions, static.blob)
}

func curOffset(flat []flatInstr) int {
	if len(flat) == 0 {
		return 2 // past the "pn" header
	}
	last := flat[len(flat)-1]
	return last.offset + last.size
}

type staticPool struct {
	order   []string
	offsets map[string]int
	blob    []byte
	base    int
}

func (p *staticPool) intern(s string) int {
	if off, ok := p.offsets[s]; ok {
		return off
	}
	off := p.base + len(p.blob)
	p.offsets[s] = off
	p.blob = append(p.blob, []byte(s)...)
	p.blob = append(p.blob, 0)
	p.order = append(p.order, s)
	return off
}

type resolveCtx struct {
	funcName  string
	funcs     map[string]int
	labels    map[string]map[string]int
	countable []int
	countIdx  int
	static    *staticPool
}

func instrSize(mnemonic string, operands []Token) int {
	size := 2 // opcode + format byte
	for i, tok := range operands {
		if tok.Kind == TokString && embedForm(mnemonic, i) {
			size += len(tok.Text) + 1
		} else {
			size += 4
		}
	}
	return size
}

// embedForm reports whether operand position i of mnemonic encodes as an
// inline EMBED (variable-length) operand rather than a fixed 4-byte one.
func embedForm(mnemonic string, i int) bool {
	form, ok := Forms[mnemonic]
	if !ok {
		return false
	}
	kind := form.Op1
	if i == 1 {
		kind = form.Op2
	}
	return kind&KindEmbed != 0 && kind&KindIntern == 0
}

// resolveInstr builds the final bytecode.Instruction for one parsed
// Instr, resolving LABEL/FUNCTION/OFFSET references to absolute byte
// offsets and interning STRING operands destined for the static-data
// region.
func resolveInstr(mnemonic string, operands []Token, ctx resolveCtx) (bytecode.Instruction, error) {
	op, ok := bytecode.Lookup(mnemonic)
	if !ok {
		return bytecode.Instruction{}, fmt.Errorf("%w: unknown opcode %q during emit", errdefs.ErrInvalidArgument, mnemonic)
	}
	ins := bytecode.Instruction{Op: op}
	fmts := [2]bytecode.OperandType{bytecode.None, bytecode.None}
	args := [2]bytecode.Operand{}

	for i, tok := range operands {
		t, a, err := resolveOperand(mnemonic, i, tok, ctx)
		if err != nil {
			return bytecode.Instruction{}, err
		}
		fmts[i] = t
		args[i] = a
	}
	ins.Fmt1, ins.Arg1 = fmts[0], args[0]
	ins.Fmt2, ins.Arg2 = fmts[1], args[1]
	return ins, nil
}

func resolveOperand(mnemonic string, pos int, tok Token, ctx resolveCtx) (bytecode.OperandType, bytecode.Operand, error) {
	form := Forms[mnemonic]
	kind := form.Op1
	if pos == 1 {
		kind = form.Op2
	}

	switch tok.Kind {
	case TokRegister:
		idx, ok := bytecode.RegisterIndex(tok.Text)
		if !ok {
			return 0, bytecode.Operand{}, fmt.Errorf("%w: %s:%d: bad register %%%s", errdefs.ErrInvalidArgument, tok.File, tok.Line, tok.Text)
		}
		return bytecode.Register, bytecode.Operand{Type: bytecode.Register, Value: idx}, nil

	case TokNumber:
		return bytecode.Literal, bytecode.Operand{Type: bytecode.Literal, Value: uint32(tok.Number)}, nil

	case TokString:
		if kind&KindIntern != 0 {
			off := ctx.static.intern(tok.Text)
			return bytecode.Address, bytecode.Operand{Type: bytecode.Address, Value: uint32(off)}, nil
		}
		return bytecode.Embed, bytecode.Operand{Type: bytecode.Embed, Text: tok.Text}, nil

	case TokIdent:
		if kind&KindFunction != 0 {
			if off, ok := ctx.funcs[tok.Text]; ok {
				return bytecode.Literal, bytecode.Operand{Type: bytecode.Literal, Value: uint32(off)}, nil
			}
		}
		if kind&KindLabel != 0 {
			if fnLabels, ok := ctx.labels[ctx.funcName]; ok {
				if off, ok := fnLabels[tok.Text]; ok {
					return bytecode.Literal, bytecode.Operand{Type: bytecode.Literal, Value: uint32(off)}, nil
				}
			}
		}
		if kind&KindIdent != 0 {
			return bytecode.Literal, bytecode.Operand{Type: bytecode.Literal, Value: uint32(identValue(tok.Text))}, nil
		}
		return 0, bytecode.Operand{}, fmt.Errorf("%w: %s:%d: undefined label or function %q", errdefs.ErrNotFound, tok.File, tok.Line, tok.Text)

	case TokOffset:
		target := ctx.countIdx
		if tok.Neg {
			target -= int(tok.Number)
		} else {
			target += int(tok.Number)
		}
		if target < 0 || target >= len(ctx.countable) {
			return 0, bytecode.Operand{}, fmt.Errorf("%w: %s:%d: offset target out of range", errdefs.ErrInvalidArgument, tok.File, tok.Line)
		}
		return bytecode.Literal, bytecode.Operand{Type: bytecode.Literal, Value: uint32(ctx.countable[target])}, nil
	}
	return 0, bytecode.Operand{}, fmt.Errorf("%w: unsupported operand token", errdefs.ErrInvalidArgument)
}

func identValue(name string) int {
	if v, ok := SyslogLevels[name]; ok {
		return v
	}
	return 0
}
