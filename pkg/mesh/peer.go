package mesh

import (
	"bytes"
	"fmt"
	"io"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

// policyPeer implements vm.RemotePeer over a policy-master wire.Conn, so
// a policy bytecode program's remote.live?/remote.sha1/remote.file
// built-ins reach back across the same connection the agent used to
// fetch the program.
type policyPeer struct {
	conn *wire.Conn
}

func (p *policyPeer) Live() bool { return p.conn != nil }

// SHA1 requests the master's checksum for key via a SHA1 PDU round trip.
func (p *policyPeer) SHA1(key string) (string, error) {
	if p.conn == nil {
		return "", errdefs.ErrUnavailable
	}
	if err := p.conn.Send(wire.New(wire.TypeSHA1, key)); err != nil {
		return "", err
	}
	reply, err := p.conn.Recv()
	if err != nil {
		return "", err
	}
	if reply.Type != wire.TypeSHA1 {
		return "", fmt.Errorf("%w: expected SHA1 reply, got %s", errdefs.ErrUnavailable, reply.Type)
	}
	return reply.Str(0), nil
}

// Fetch requests key's content, streamed as a sequence of BLOCK PDUs
// terminated by an EOF PDU.
func (p *policyPeer) Fetch(key string) (io.ReadCloser, error) {
	if p.conn == nil {
		return nil, errdefs.ErrUnavailable
	}
	if err := p.conn.Send(wire.New(wire.TypeFile, key)); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for {
		pdu, err := p.conn.Recv()
		if err != nil {
			return nil, err
		}
		switch pdu.Type {
		case wire.TypeBlock:
			buf.Write(pdu.Parts[0])
		case wire.TypeEOF:
			return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
		case wire.TypeError:
			return nil, fmt.Errorf("%w: remote fetch %s: %s", errdefs.ErrNotFound, key, pdu.Str(0))
		default:
			return nil, fmt.Errorf("%w: unexpected pdu %s during fetch", errdefs.ErrUnavailable, pdu.Type)
		}
	}
}
