package wire

import (
	"fmt"
	"strconv"

	"github.com/containerd/log"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// ProtocolVersion is the single monotonically increasing integer
// exchanged in the PING/PONG payload. Bump it whenever a
// wire-incompatible change is made; there is no negotiation beyond an
// exact match.
const ProtocolVersion = 1

// Ping sends this peer's protocol version and waits for the matching
// PONG, logging and returning an error on a version mismatch so the
// caller can disconnect.
func Ping(c *Conn) error {
	if err := c.Send(New(TypePing, strconv.Itoa(ProtocolVersion))); err != nil {
		return err
	}
	reply, err := c.Recv()
	if err != nil {
		return err
	}
	if reply.Type != TypePong {
		return fmt.Errorf("%w: expected PONG, got %s", errdefs.ErrInvalidArgument, reply.Type)
	}
	return checkVersion(reply.Str(0))
}

// Pong answers an inbound PING with this peer's version, then checks the
// peer's advertised version for a mismatch.
func Pong(c *Conn, ping PDU) error {
	if err := c.Send(New(TypePong, strconv.Itoa(ProtocolVersion))); err != nil {
		return err
	}
	return checkVersion(ping.Str(0))
}

func checkVersion(raw string) error {
	peerVersion, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed protocol version %q", errdefs.ErrInvalidArgument, raw)
	}
	if peerVersion != ProtocolVersion {
		log.L.WithField("component", "wire").
			WithField("local_version", ProtocolVersion).
			WithField("peer_version", peerVersion).
			Error("protocol version mismatch, disconnecting")
		return fmt.Errorf("%w: protocol version mismatch: local=%d peer=%d",
			errdefs.ErrInvalidArgument, ProtocolVersion, peerVersion)
	}
	return nil
}
