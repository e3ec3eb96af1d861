// Package wire implements the multipart PDU framing and protocol version
// exchange used between the mesh server, mesh agents, and the policy
// master: one logical PDU per websocket message, frame 0 is an ASCII
// type, the remaining frames are type-specific bodies.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// Recognized PDU types.
const (
	TypeRequest   = "REQUEST"
	TypeSubmitted = "SUBMITTED"
	TypeCheck     = "CHECK"
	TypeResult    = "RESULT"
	TypeOptout    = "OPTOUT"
	TypeDone      = "DONE"
	TypeError     = "ERROR"
	TypeCommand   = "COMMAND"
	TypePing      = "PING"
	TypePong      = "PONG"
	TypeHello     = "HELLO"
	TypeBye       = "BYE"
	TypePolicy    = "POLICY"
	TypeCopydown  = "COPYDOWN"
	TypeData      = "DATA"
	TypeBlock     = "BLOCK"
	TypeEOF       = "EOF"
	TypeFile      = "FILE"
	TypeSHA1      = "SHA1"
)

// PDU is one decoded protocol message: an ASCII type and its ordered
// body frames. Bodies are UTF-8 text except BLOCK and bytecode frames,
// which are opaque bytes — callers index Parts directly rather than
// this package imposing a schema per type.
type PDU struct {
	Type  string
	Parts [][]byte
}

// New builds a PDU from a type and string parts, a convenience for the
// common case of all-text bodies.
func New(typ string, parts ...string) PDU {
	pdu := PDU{Type: typ, Parts: make([][]byte, len(parts))}
	for i, p := range parts {
		pdu.Parts[i] = []byte(p)
	}
	return pdu
}

// Str returns Parts[i] as a string, or "" if i is out of range.
func (p PDU) Str(i int) string {
	if i < 0 || i >= len(p.Parts) {
		return ""
	}
	return string(p.Parts[i])
}

// Encode serializes the PDU as: type frame, then each part frame, each
// prefixed by a 4-byte big-endian length — a single websocket binary
// message carries the whole thing, giving self-delimited multipart
// framing without relying on websocket-level multipart extensions.
func Encode(pdu PDU) []byte {
	total := 4 + len(pdu.Type)
	for _, part := range pdu.Parts {
		total += 4 + len(part)
	}
	buf := make([]byte, 0, total)
	buf = appendFrame(buf, []byte(pdu.Type))
	for _, part := range pdu.Parts {
		buf = appendFrame(buf, part)
	}
	return buf
}

func appendFrame(buf []byte, frame []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, frame...)
}

// Decode parses a single websocket message back into a PDU.
func Decode(msg []byte) (PDU, error) {
	frames, err := readFrames(msg)
	if err != nil {
		return PDU{}, err
	}
	if len(frames) == 0 {
		return PDU{}, fmt.Errorf("%w: empty PDU message", errdefs.ErrInvalidArgument)
	}
	return PDU{Type: string(frames[0]), Parts: frames[1:]}, nil
}

func readFrames(msg []byte) ([][]byte, error) {
	var frames [][]byte
	for len(msg) > 0 {
		if len(msg) < 4 {
			return nil, fmt.Errorf("%w: truncated PDU frame length", errdefs.ErrInvalidArgument)
		}
		n := binary.BigEndian.Uint32(msg[:4])
		msg = msg[4:]
		if uint64(len(msg)) < uint64(n) {
			return nil, fmt.Errorf("%w: truncated PDU frame body", errdefs.ErrInvalidArgument)
		}
		frames = append(frames, msg[:n])
		msg = msg[n:]
	}
	return frames, nil
}
