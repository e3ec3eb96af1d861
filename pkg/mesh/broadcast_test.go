package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

func TestPublisherBroadcastReachesSubscribers(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	srv1, cli1 := connPair(t)
	defer cli1.Close()
	unsub1 := p.Subscribe(srv1)
	defer unsub1()

	srv2, cli2 := connPair(t)
	defer cli2.Close()
	unsub2 := p.Subscribe(srv2)
	defer unsub2()

	require.NoError(t, p.Broadcast(wire.New(wire.TypeCommand, "1", "alice", "show version")))

	for _, c := range []*wire.Conn{cli1, cli2} {
		c.SetDeadline(2 * time.Second) //nolint:errcheck
		pdu, err := c.Recv()
		require.NoError(t, err)
		require.Equal(t, wire.TypeCommand, pdu.Type)
	}
}

func TestPublisherUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher()
	defer p.Close()

	srv, cli := connPair(t)
	defer cli.Close()
	unsub := p.Subscribe(srv)
	unsub()

	require.NoError(t, p.Broadcast(wire.New(wire.TypeCommand, "1", "alice", "show version")))

	cli.SetDeadline(200 * time.Millisecond) //nolint:errcheck
	_, err := cli.Recv()
	require.Error(t, err, "unsubscribed connection must not receive the broadcast")
}
