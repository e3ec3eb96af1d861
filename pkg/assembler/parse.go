package assembler

import (
	"fmt"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
)

// Parse turns a lexed line stream into a Program. Syntax errors (unknown
// opcode, operand form that doesn't match the opcode's Form, a
// label/"fn" appearing where an instruction was expected) abort with a
// file:line-tagged error.
func Parse(lines []Line) (*Program, error) {
	prog := &Program{}
	var cur *Function

	for _, ln := range lines {
		toks := ln.Tokens
		if len(toks) == 0 {
			continue
		}

		if toks[0].Kind == TokFn {
			if len(toks) < 2 || toks[1].Kind != TokIdent {
				return nil, perr(ln, "fn requires a function name")
			}
			cur = &Function{Name: toks[1].Text, File: ln.File, Line: ln.LineNo}
			prog.Functions = append(prog.Functions, cur)
			continue
		}

		if cur == nil {
			return nil, perr(ln, "instruction outside any fn block")
		}

		if toks[0].Kind == TokLabelDef {
			cur.Items = append(cur.Items, &Label{Name: toks[0].Text, Line: ln.LineNo})
			continue
		}

		if toks[0].Kind == TokAcl {
			if len(toks) != 2 || toks[1].Kind != TokString {
				return nil, perr(ln, "acl requires a single string rule")
			}
			cur.Items = append(cur.Items, &AclLine{Rule: toks[1].Text, Line: ln.LineNo})
			continue
		}

		if toks[0].Kind != TokIdent {
			return nil, perr(ln, "expected an opcode mnemonic")
		}

		instr, err := parseInstr(ln, toks)
		if err != nil {
			return nil, err
		}
		cur.Items = append(cur.Items, instr)
	}

	if err := checkFunctions(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

func checkFunctions(prog *Program) error {
	seen := map[string]bool{}
	hasMain := false
	for _, fn := range prog.Functions {
		if seen[fn.Name] {
			return fmt.Errorf("%w: %s:%d: function %q redefined", errdefs.ErrAlreadyExists, fn.File, fn.Line, fn.Name)
		}
		seen[fn.Name] = true
		if fn.Name == "main" {
			hasMain = true
		}
	}
	if !hasMain {
		return fmt.Errorf("%w: program has no fn main", errdefs.ErrInvalidArgument)
	}
	return nil
}

func parseInstr(ln Line, toks []Token) (*Instr, error) {
	mnemonic := toks[0].Text
	operands := toks[1:]

	form, isCore := Forms[mnemonic]
	_, isBuiltin := bytecode.LookupBuiltin(mnemonic)
	if !isCore && !isBuiltin {
		return nil, perr(ln, fmt.Sprintf("unknown opcode %q", mnemonic))
	}
	if isBuiltin && !isCore {
		form = Form{Name: mnemonic, Arity: 0}
	}

	if len(operands) > form.Arity {
		return nil, perr(ln, fmt.Sprintf("%s takes at most %d operand(s), got %d", mnemonic, form.Arity, len(operands)))
	}
	if len(operands) < form.Arity && !(form.Arity == 1 && form.Optional) {
		return nil, perr(ln, fmt.Sprintf("%s requires %d operand(s), got %d", mnemonic, form.Arity, len(operands)))
	}

	kinds := []OperandKind{form.Op1, form.Op2}
	for i, tok := range operands {
		if !kindAccepts(kinds[i], tok) {
			return nil, perr(ln, fmt.Sprintf("%s: operand %d %q has invalid form for this opcode", mnemonic, i+1, tok.Text))
		}
	}

	return &Instr{Mnemonic: mnemonic, Operands: operands, Line: ln.LineNo, File: ln.File}, nil
}

func kindAccepts(mask OperandKind, tok Token) bool {
	switch tok.Kind {
	case TokRegister:
		return mask&KindRegister != 0
	case TokNumber:
		return mask&KindNumber != 0
	case TokOffset:
		return mask&KindOffset != 0
	case TokString:
		return mask&(KindEmbed|KindIntern) != 0
	case TokIdent:
		return mask&(KindLabel|KindFunction|KindIdent) != 0
	default:
		return false
	}
}

func perr(ln Line, msg string) error {
	return fmt.Errorf("%w: %s:%d: %s", errdefs.ErrInvalidArgument, ln.File, ln.LineNo, msg)
}
