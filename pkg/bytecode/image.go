package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic is the two leading bytes of every bytecode image ("pn").
var Magic = [2]byte{'p', 'n'}

// Instruction is one decoded instruction: opcode, its operand types, and
// up to two decoded operands.
type Instruction struct {
	Op   Op
	Fmt1 OperandType
	Fmt2 OperandType
	Arg1 Operand
	Arg2 Operand
}

// Encode appends the instruction's wire encoding to buf and returns the
// extended slice.
func (ins Instruction) Encode(buf []byte) ([]byte, error) {
	if !ValidFormat(ins.Fmt1, ins.Fmt2) {
		return nil, fmt.Errorf("%w: operand 2 present without operand 1", errInvalid)
	}
	buf = append(buf, byte(ins.Op), Format(ins.Fmt1, ins.Fmt2))
	if ins.Fmt1 != None {
		buf = encodeOperand(buf, ins.Fmt1, ins.Arg1)
	}
	if ins.Fmt2 != None {
		buf = encodeOperand(buf, ins.Fmt2, ins.Arg2)
	}
	return buf, nil
}

func encodeOperand(buf []byte, t OperandType, o Operand) []byte {
	switch t {
	case Embed:
		buf = append(buf, []byte(o.Text)...)
		buf = append(buf, 0)
		return buf
	default: // Literal, Register, Address all encode as 4-byte BE
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], o.Value)
		return append(buf, tmp[:]...)
	}
}

// errInvalid is a local alias to keep this file import-light; pkg/bytecode
// intentionally does not depend on internal/errdefs so it stays usable as
// a leaf package.
var errInvalid = fmt.Errorf("invalid instruction")

// DecodeInstruction reads one instruction starting at code[pc]. It
// returns the instruction and the offset of the next instruction.
func DecodeInstruction(code []byte, pc int) (Instruction, int, error) {
	if pc+2 > len(code) {
		return Instruction{}, 0, fmt.Errorf("%w: truncated instruction at %d", errInvalid, pc)
	}
	op := Op(code[pc])
	fmt1, fmt2 := SplitFormat(code[pc+1])
	if !ValidFormat(fmt1, fmt2) {
		return Instruction{}, 0, fmt.Errorf("%w: malformed operand format at %d", errInvalid, pc)
	}
	off := pc + 2
	ins := Instruction{Op: op, Fmt1: fmt1, Fmt2: fmt2}
	var err error
	if fmt1 != None {
		ins.Arg1, off, err = decodeOperand(code, off, fmt1)
		if err != nil {
			return Instruction{}, 0, err
		}
	}
	if fmt2 != None {
		ins.Arg2, off, err = decodeOperand(code, off, fmt2)
		if err != nil {
			return Instruction{}, 0, err
		}
	}
	return ins, off, nil
}

func decodeOperand(code []byte, off int, t OperandType) (Operand, int, error) {
	switch t {
	case Embed:
		end := bytes.IndexByte(code[off:], 0)
		if end < 0 {
			return Operand{}, 0, fmt.Errorf("%w: unterminated embedded string at %d", errInvalid, off)
		}
		return Operand{Type: Embed, Text: string(code[off : off+end])}, off + end + 1, nil
	default:
		if off+4 > len(code) {
			return Operand{}, 0, fmt.Errorf("%w: truncated operand at %d", errInvalid, off)
		}
		v := binary.BigEndian.Uint32(code[off : off+4])
		return Operand{Type: t, Value: v}, off + 4, nil
	}
}

// ScanStatic0 walks instructions from pc=2 until it reaches an OpEOF
// instruction (format byte 0x00) and returns the offset of the first byte
// past that sentinel — the start of the static-data region.
func ScanStatic0(code []byte) (int, error) {
	if len(code) < 2 || code[0] != Magic[0] || code[1] != Magic[1] {
		return 0, fmt.Errorf("%w: missing 'pn' magic header", errInvalid)
	}
	pc := 2
	for {
		if pc >= len(code) {
			return 0, fmt.Errorf("%w: no OP_EOF sentinel found", errInvalid)
		}
		op := Op(code[pc])
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("%w: truncated instruction at %d", errInvalid, pc)
		}
		format := code[pc+1]
		if op == OpEOF && format == 0x00 {
			return pc + 2, nil
		}
		_, next, err := DecodeInstruction(code, pc)
		if err != nil {
			return 0, err
		}
		pc = next
	}
}

// StaticString reads a NUL-terminated string at the given static-data
// offset.
func StaticString(code []byte, offset int) (string, error) {
	if offset < 0 || offset >= len(code) {
		return "", fmt.Errorf("%w: static string offset %d out of range", errInvalid, offset)
	}
	end := bytes.IndexByte(code[offset:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated static string at offset %d", errInvalid, offset)
	}
	return string(code[offset : offset+end]), nil
}

// NewImage assembles a complete bytecode image from an ordered
// instruction stream (which must already end in OpEOF) and a static-data
// blob (already NUL-terminated strings concatenated).
func NewImage(instructions []Instruction, static []byte) ([]byte, error) {
	buf := []byte{Magic[0], Magic[1]}
	for _, ins := range instructions {
		var err error
		buf, err = ins.Encode(buf)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, static...)
	return buf, nil
}
