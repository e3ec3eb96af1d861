package mesh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockwork-mesh/clockwork/pkg/command"
	"github.com/clockwork-mesh/clockwork/pkg/config"
	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

// connPair returns a connected (server-side, client-side) Conn pair over
// a real loopback websocket, for exercising code that sends on a
// *wire.Conn without standing up a full Server/Agent.
func connPair(t *testing.T) (serverSide, clientSide *wire.Conn) {
	t.Helper()
	accepted := make(chan *wire.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wire.Accept(w, r, "server")
		require.NoError(t, err)
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, err := wire.Dial(context.Background(), url, "client")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server := <-accepted
	t.Cleanup(func() { server.Close() })
	return server, client
}

func newTestAgent(t *testing.T, localACL command.List) *Agent {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/local-acl"
	if localACL != nil {
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, command.WriteACL(f, localACL))
		require.NoError(t, f.Close())
	}
	killsw, err := NewKillswitch(dir + "/killswitch")
	require.NoError(t, err)
	t.Cleanup(func() { killsw.Close() })

	return &Agent{
		cfg:          config.Agent{DefaultDisposition: "neutral"},
		fqdn:         "test-host",
		gatherer:     &FactGatherer{Path: dir + "/gatherers-missing"},
		killsw:       killsw,
		localACLPath: path,
	}
}

func TestHandleCommandOptoutsWhenNotAllowed(t *testing.T) {
	a := newTestAgent(t, nil) // no local ACL -> Neutral -> default disposition "neutral" -> not Allow
	serverSide, clientSide := connPair(t)
	defer clientSide.Close()

	img, err := Codegen("show version")
	require.NoError(t, err)

	go a.handleCommand(serverSide, wire.PDU{
		Type: wire.TypeCommand,
		Parts: [][]byte{
			[]byte("7"), []byte("alice:ops"), []byte("show version"), img, []byte(""),
		},
	})

	reply, err := clientSide.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.TypeOptout, reply.Type)
	require.Equal(t, "7", reply.Str(0))
	require.Equal(t, "test-host", reply.Str(1))
}

func TestHandleCommandOptoutsWhenFilterDoesNotMatch(t *testing.T) {
	rule, ok := command.ParseRule(`allow alice "*"`)
	require.True(t, ok)
	a := newTestAgent(t, command.List{rule})
	serverSide, clientSide := connPair(t)
	defer clientSide.Close()

	img, err := Codegen("show version")
	require.NoError(t, err)

	go a.handleCommand(serverSide, wire.PDU{
		Type: wire.TypeCommand,
		Parts: [][]byte{
			[]byte("8"), []byte("alice:ops"), []byte("show version"), img,
			[]byte("env = nonexistent"),
		},
	})

	reply, err := clientSide.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.TypeOptout, reply.Type)
}

func TestHandleCommandMalformedBroadcastIsIgnored(t *testing.T) {
	a := newTestAgent(t, nil)
	serverSide, _ := connPair(t)
	a.handleCommand(serverSide, wire.PDU{Type: wire.TypeCommand, Parts: [][]byte{[]byte("only-one-part")}})
}
