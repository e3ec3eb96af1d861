package mesh

import (
	"sync"

	"github.com/docker/go-events"

	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

// connSink adapts a wire.Conn into a go-events.Sink so the server's
// single Broadcaster can fan a COMMAND PDU out to every subscribed
// agent connection without the server tracking its own connection list.
type connSink struct {
	conn *wire.Conn
}

func (s *connSink) Write(event events.Event) error {
	pdu, ok := event.(wire.PDU)
	if !ok {
		return nil
	}
	return s.conn.Send(pdu)
}

func (s *connSink) Close() error { return s.conn.Close() }

// Publisher owns the server's broadcast fan-out: every agent connection
// on the publisher socket registers a sink here, and a single COMMAND
// PDU write reaches all of them.
type Publisher struct {
	mu   sync.Mutex
	b    *events.Broadcaster
}

// NewPublisher builds an empty broadcaster.
func NewPublisher() *Publisher {
	return &Publisher{b: events.NewBroadcaster()}
}

// Subscribe registers conn to receive every future Broadcast call. The
// returned func unregisters it; callers defer it for the lifetime of
// the connection.
func (p *Publisher) Subscribe(conn *wire.Conn) func() {
	sink := &connSink{conn: conn}
	p.mu.Lock()
	p.b.Add(sink)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.b.Remove(sink)
		p.mu.Unlock()
	}
}

// Broadcast fans pdu out to every currently subscribed agent.
func (p *Publisher) Broadcast(pdu wire.PDU) error {
	return p.b.Write(pdu)
}

// Close tears down the broadcaster, closing every registered sink.
func (p *Publisher) Close() error {
	return p.b.Close()
}
