package mesh

import (
	"fmt"
	"strings"

	"github.com/clockwork-mesh/clockwork/pkg/assembler"
)

// Codegen compiles a canonical command string into a bytecode image
// suitable for a COMMAND broadcast. There is no fixed verb set for the
// command language, so the generic form loads the command line into %a
// and runs it through the "exec" built-in, the same path an assembly
// source file would use to shell out. The program ends with the
// idiomatic bare "ret", not "halt": entry is via "jmp @main", so main's
// istack is empty and ret ends the run the same way an operator-authored
// policy's "fn main ... ret" does.
func Codegen(canonical string) ([]byte, error) {
	src := fmt.Sprintf("fn main\n  str %%a, %s\n  exec\n  ret\n", quoteAsmString(escapePercent(canonical)))

	lines, err := assembler.Lex("command", src)
	if err != nil {
		return nil, fmt.Errorf("codegen lex: %w", err)
	}
	prog, err := assembler.Parse(lines)
	if err != nil {
		return nil, fmt.Errorf("codegen parse: %w", err)
	}
	img, err := assembler.Compile(prog, assembler.Options{Strip: true})
	if err != nil {
		return nil, fmt.Errorf("codegen compile: %w", err)
	}
	return img, nil
}

// escapePercent doubles every '%' so the command text survives str's
// %verb-substitution directive language as literal text rather than
// being parsed as a format directive.
func escapePercent(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// quoteAsmString renders s as a double-quoted assembly string literal,
// escaping the two characters the lexer's quoted-string form treats
// specially.
func quoteAsmString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
