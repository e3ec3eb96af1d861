package mesh

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clockwork-mesh/clockwork/pkg/authdb"
	"github.com/clockwork-mesh/clockwork/pkg/command"
	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

type fakeAuthenticator struct {
	ok bool
}

func (f *fakeAuthenticator) Authenticate(username, auth string) (bool, error) {
	return f.ok, nil
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func seedAuthdb(t *testing.T) *authdb.DB {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "passwd", "alice:x:1000:1000:Alice:/home/alice:/bin/bash\n")
	writeFixture(t, dir, "shadow", "alice:$6$abc:19000:0:99999:7:::\n")
	writeFixture(t, dir, "group", "alice:x:1000:\nops:x:2000:alice\n")
	writeFixture(t, dir, "gshadow", "alice:!::\nops:!::alice\n")
	db, err := authdb.Open(dir, authdb.All)
	require.NoError(t, err)
	return db
}

func newTestServer(t *testing.T, ok bool, acl command.List) *Server {
	t.Helper()
	s := NewServer("", "", seedAuthdb(t), acl, 64, time.Minute, time.Second)
	s.Auth = &fakeAuthenticator{ok: ok}
	return s
}

func TestHandleRequestDeniesUnauthenticated(t *testing.T) {
	s := newTestServer(t, false, nil)
	reply := s.handleRequest(wire.New(wire.TypeRequest, "alice", "wrong", "show version", ""))
	require.Equal(t, wire.TypeError, reply.Type)
	require.Equal(t, "authentication failed", reply.Str(0))
}

func TestHandleRequestDeniesWithoutACLMatch(t *testing.T) {
	s := newTestServer(t, true, nil)
	reply := s.handleRequest(wire.New(wire.TypeRequest, "alice", "secret", "show version", ""))
	require.Equal(t, wire.TypeError, reply.Type)
	require.Equal(t, "not authorized", reply.Str(0))
}

func TestHandleRequestRejectsMalformedCommand(t *testing.T) {
	rule, ok := command.ParseRule(`allow alice "*"`)
	require.True(t, ok)
	s := newTestServer(t, true, command.List{rule})
	reply := s.handleRequest(wire.New(wire.TypeRequest, "alice", "secret", `unterminated "quote`, ""))
	require.Equal(t, wire.TypeError, reply.Type)
	require.Equal(t, "malformed command", reply.Str(0))
}

func TestHandleRequestSubmitsAndQueuesSlot(t *testing.T) {
	rule, ok := command.ParseRule(`allow alice "*"`)
	require.True(t, ok)
	s := newTestServer(t, true, command.List{rule})

	reply := s.handleRequest(wire.New(wire.TypeRequest, "alice", "secret", "show version", ""))
	require.Equal(t, wire.TypeSubmitted, reply.Type)

	serial, err := strconv.ParseUint(reply.Str(0), 10, 64)
	require.NoError(t, err)

	results, ok := s.slots.Drain(serial)
	require.True(t, ok)
	require.Empty(t, results)
}

func TestHandleCheckStreamsEachResultThenDone(t *testing.T) {
	s := newTestServer(t, true, nil)
	serial := s.slots.NextSerial()
	s.slots.Put(serial, "alice:ops", "show version")
	s.slots.Append(serial, ResultEntry{FQDN: "host1", Status: 0, Output: "ok"})
	s.slots.Append(serial, ResultEntry{FQDN: "host2", Optout: true})

	replies := s.handleCheck(wire.New(wire.TypeCheck, strconv.FormatUint(serial, 10)))
	require.Len(t, replies, 3)
	require.Equal(t, wire.TypeResult, replies[0].Type)
	require.Equal(t, "host1", replies[0].Str(0))
	require.Equal(t, wire.TypeOptout, replies[1].Type)
	require.Equal(t, "host2", replies[1].Str(0))
	require.Equal(t, wire.TypeDone, replies[2].Type)
}

func TestHandleCheckUnknownSerialIsError(t *testing.T) {
	s := newTestServer(t, true, nil)
	replies := s.handleCheck(wire.New(wire.TypeCheck, "999999"))
	require.Len(t, replies, 1)
	require.Equal(t, wire.TypeError, replies[0].Type)
}

func TestDispatchRoutesEachPDUType(t *testing.T) {
	rule, ok := command.ParseRule(`allow alice "*"`)
	require.True(t, ok)
	s := newTestServer(t, true, command.List{rule})

	replies := s.dispatch(wire.New(wire.TypeRequest, "alice", "secret", "show version", ""))
	require.Len(t, replies, 1)
	require.Equal(t, wire.TypeSubmitted, replies[0].Type)
	serial := replies[0].Str(0)

	require.Nil(t, s.dispatch(wire.New(wire.TypeResult, serial, "host1", "0", "ok")))
	require.Nil(t, s.dispatch(wire.New(wire.TypeOptout, serial, "host2")))

	done := s.dispatch(wire.New(wire.TypeCheck, serial))
	require.Len(t, done, 3)
	require.Equal(t, wire.TypeDone, done[2].Type)

	unknown := s.dispatch(wire.New("BOGUS"))
	require.Len(t, unknown, 1)
	require.Equal(t, wire.TypeError, unknown[0].Type)
}
