// Package mesh implements the control plane: the mesh server's
// router/publisher reactor and the mesh agent's poll-and-execute
// reactor, built on pkg/wire's PDU transport.
package mesh

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/containerd/log"

	"github.com/clockwork-mesh/clockwork/pkg/authdb"
	"github.com/clockwork-mesh/clockwork/pkg/command"
	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

// Server is the mesh control plane: a router socket for operator/agent
// request-reply traffic and a publisher socket agents subscribe to for
// COMMAND broadcasts.
type Server struct {
	RouterAddr    string
	PublisherAddr string
	CallTimeout   time.Duration

	DB            *authdb.DB
	Auth          Authenticator
	ACL           command.List

	slots     *SlotCache
	publisher *Publisher
}

// NewServer wires a Server over an already-opened AuthDB and ACL list.
func NewServer(routerAddr, publisherAddr string, db *authdb.DB, acl command.List, cacheSize int, cacheTTL, callTimeout time.Duration) *Server {
	return &Server{
		RouterAddr:    routerAddr,
		PublisherAddr: publisherAddr,
		CallTimeout:   callTimeout,
		DB:            db,
		Auth:          &CredentialAuthenticator{DB: db},
		ACL:           acl,
		slots:         NewSlotCache(cacheSize, cacheTTL),
		publisher:     NewPublisher(),
	}
}

// Run starts both sockets and blocks until ctx is cancelled or either
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	router := &http.Server{Addr: s.RouterAddr, Handler: http.HandlerFunc(s.handleRouter)}
	pub := &http.Server{Addr: s.PublisherAddr, Handler: http.HandlerFunc(s.handlePublisher)}

	errc := make(chan error, 2)
	go func() { errc <- router.ListenAndServe() }()
	go func() { errc <- pub.ListenAndServe() }()

	select {
	case <-ctx.Done():
		router.Close() //nolint:errcheck
		pub.Close()    //nolint:errcheck
		s.publisher.Close() //nolint:errcheck
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// handlePublisher upgrades an agent's long-lived broadcast subscription
// and keeps it registered until the connection drops.
func (s *Server) handlePublisher(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Accept(w, r, r.RemoteAddr)
	if err != nil {
		log.L.WithError(err).Warn("publisher: upgrade failed")
		return
	}
	defer conn.Close()

	if err := wire.Pong(conn, mustRecvPing(conn)); err != nil {
		log.L.WithError(err).Warn("publisher: handshake failed")
		return
	}

	unsubscribe := s.publisher.Subscribe(conn)
	defer unsubscribe()

	// Block reading from the subscriber; its only job is to receive
	// broadcasts, so any inbound message (or the connection closing)
	// ends the subscription.
	for {
		if _, err := conn.Recv(); err != nil {
			return
		}
	}
}

func mustRecvPing(conn *wire.Conn) wire.PDU {
	pdu, err := conn.Recv()
	if err != nil {
		return wire.New(wire.TypePing, "0")
	}
	return pdu
}

// handleRouter is the control-plane reactor: each inbound PDU is handled
// to completion, including its reply, before the next Recv.
func (s *Server) handleRouter(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Accept(w, r, r.RemoteAddr)
	if err != nil {
		log.L.WithError(err).Warn("router: upgrade failed")
		return
	}
	defer conn.Close()

	if err := wire.Pong(conn, mustRecvPing(conn)); err != nil {
		log.L.WithError(err).Warn("router: handshake failed")
		return
	}

	for {
		pdu, err := conn.Recv()
		if err != nil {
			return
		}
		for _, reply := range s.dispatch(pdu) {
			if err := conn.Send(reply); err != nil {
				return
			}
		}
	}
}

// dispatch handles one control-plane PDU, returning the reply PDUs to
// send in order (empty for RESULT/OPTOUT, which get no reply).
func (s *Server) dispatch(pdu wire.PDU) []wire.PDU {
	switch pdu.Type {
	case wire.TypeRequest:
		return []wire.PDU{s.handleRequest(pdu)}
	case wire.TypeCheck:
		return s.handleCheck(pdu)
	case wire.TypeResult:
		s.handleResult(pdu)
		return nil
	case wire.TypeOptout:
		s.handleOptout(pdu)
		return nil
	default:
		return []wire.PDU{wire.New(wire.TypeError, fmt.Sprintf("unknown pdu type %q", pdu.Type))}
	}
}

// handleRequest implements the REQUEST verb end to end: authenticate,
// derive principal, parse the command, consult the global ACL, assign
// a serial, broadcast COMMAND, and reply SUBMITTED.
func (s *Server) handleRequest(pdu wire.PDU) wire.PDU {
	username, auth, cmdText, filterText := pdu.Str(0), pdu.Str(1), pdu.Str(2), pdu.Str(3)

	ok, err := s.Auth.Authenticate(username, auth)
	if err != nil || !ok {
		return wire.New(wire.TypeError, "authentication failed")
	}

	credsLine, err := s.DB.Creds(username)
	if err != nil {
		return wire.New(wire.TypeError, "authentication failed")
	}
	principal := command.Principal(credsLine)

	cmd, err := command.Parse(cmdText, command.Exact)
	if err != nil {
		return wire.New(wire.TypeError, "malformed command")
	}

	if disp := s.ACL.Check(principal, cmd); disp != command.Allow {
		return wire.New(wire.TypeError, "not authorized")
	}

	img, err := Codegen(cmd.Canonical())
	if err != nil {
		log.L.WithError(err).Error("codegen failed")
		return wire.New(wire.TypeError, "codegen failed")
	}

	serial := s.slots.NextSerial()
	s.slots.Put(serial, string(principal), cmd.Canonical())

	broadcastPDU := wire.PDU{
		Type: wire.TypeCommand,
		Parts: [][]byte{
			[]byte(strconv.FormatUint(serial, 10)),
			[]byte(principal),
			[]byte(cmd.Canonical()),
			img,
			[]byte(filterText),
		},
	}
	if err := s.publisher.Broadcast(broadcastPDU); err != nil {
		log.L.WithError(err).Warn("broadcast failed")
	}

	return wire.New(wire.TypeSubmitted, strconv.FormatUint(serial, 10))
}

// handleCheck implements CHECK's drain-then-DONE protocol: each buffered
// RESULT/OPTOUT is streamed back as its own PDU, terminated by a DONE.
func (s *Server) handleCheck(pdu wire.PDU) []wire.PDU {
	serial, err := strconv.ParseUint(pdu.Str(0), 10, 64)
	if err != nil {
		return []wire.PDU{wire.New(wire.TypeError, "not a client")}
	}
	results, ok := s.slots.Drain(serial)
	if !ok {
		return []wire.PDU{wire.New(wire.TypeError, "not a client")}
	}
	out := make([]wire.PDU, 0, len(results)+1)
	for _, r := range results {
		if r.Optout {
			out = append(out, wire.New(wire.TypeOptout, r.FQDN))
			continue
		}
		out = append(out, wire.New(wire.TypeResult, r.FQDN, strconv.Itoa(r.Status), r.Output))
	}
	out = append(out, wire.New(wire.TypeDone))
	return out
}

func (s *Server) handleResult(pdu wire.PDU) {
	serial, err := strconv.ParseUint(pdu.Str(0), 10, 64)
	if err != nil {
		return
	}
	fqdn := pdu.Str(1)
	if err := validateFQDN(fqdn); err != nil {
		log.L.WithError(err).Warn("result: dropping malformed fqdn")
		return
	}
	status, _ := strconv.Atoi(pdu.Str(2))
	s.slots.Append(serial, ResultEntry{FQDN: fqdn, Status: status, Output: pdu.Str(3)})
}

func (s *Server) handleOptout(pdu wire.PDU) {
	serial, err := strconv.ParseUint(pdu.Str(0), 10, 64)
	if err != nil {
		return
	}
	fqdn := pdu.Str(1)
	if err := validateFQDN(fqdn); err != nil {
		log.L.WithError(err).Warn("optout: dropping malformed fqdn")
		return
	}
	s.slots.Append(serial, ResultEntry{FQDN: fqdn, Optout: true})
}
