package bytecode

import "testing"

func TestInstructionEncodeSetRegisterLiteral(t *testing.T) {
	ins := Instruction{
		Op:   OpSet,
		Fmt1: Register,
		Fmt2: Literal,
		Arg1: Operand{Type: Register, Value: 0},  // %a
		Arg2: Operand{Type: Literal, Value: 42},
	}
	buf, err := ins.Encode(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{byte(OpSet), 0x21, 0, 0, 0, 0, 0, 0, 0, 42}
	if len(buf) != len(want) {
		t.Fatalf("len(buf) = %d, want %d (% x)", len(buf), len(want), buf)
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, buf[i], want[i])
		}
	}
}

func TestDecodeInstructionRoundTrip(t *testing.T) {
	ins := Instruction{
		Op:   OpStr,
		Fmt1: Register,
		Fmt2: Embed,
		Arg1: Operand{Type: Register, Value: 3},
		Arg2: Operand{Type: Embed, Text: "hello %T"},
	}
	buf, err := ins.Encode([]byte{Magic[0], Magic[1]})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, next, err := DecodeInstruction(buf, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Op != ins.Op || got.Arg1.Value != 3 || got.Arg2.Text != "hello %T" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if next != len(buf) {
		t.Fatalf("next = %d, want %d", next, len(buf))
	}
}

func TestScanStatic0(t *testing.T) {
	instrs := []Instruction{
		{Op: OpSet, Fmt1: Register, Fmt2: Literal,
			Arg1: Operand{Type: Register, Value: 0}, Arg2: Operand{Type: Literal, Value: 42}},
		{Op: OpRet, Fmt1: None, Fmt2: None},
		{Op: OpEOF, Fmt1: None, Fmt2: None},
	}
	img, err := NewImage(instrs, []byte("hi\x00"))
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	if img[0] != 'p' || img[1] != 'n' {
		t.Fatalf("missing magic header: % x", img[:2])
	}
	static0, err := ScanStatic0(img)
	if err != nil {
		t.Fatalf("ScanStatic0: %v", err)
	}
	if string(img[static0:]) != "hi\x00" {
		t.Fatalf("static region = %q, want %q", img[static0:], "hi\x00")
	}
}
