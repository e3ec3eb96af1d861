package mesh

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/containerd/log"

	"github.com/clockwork-mesh/clockwork/pkg/assembler"
	"github.com/clockwork-mesh/clockwork/pkg/bdfa"
	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

// PolicyMaster is cmd/cwpol's server: it answers an agent's scheduled
// HELLO/COPYDOWN/POLICY/BYE sequence over a single connection per run.
type PolicyMaster struct {
	Addr string

	// SourceFile is the root assembly file (its #include statements
	// resolve relative to IncludeRoot) compiled fresh for every POLICY
	// request, so a source edit takes effect on the next poll.
	SourceFile  string
	IncludeRoot string

	// FilesRoot is the directory tree packed into the COPYDOWN archive.
	FilesRoot string
}

// Run starts the policy master's listener, blocking until ctx is
// cancelled or the listener fails.
func (m *PolicyMaster) Run(ctx context.Context) error {
	srv := &http.Server{Addr: m.Addr, Handler: http.HandlerFunc(m.handle)}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		srv.Close() //nolint:errcheck
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func (m *PolicyMaster) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Accept(w, r, r.RemoteAddr)
	if err != nil {
		log.L.WithError(err).Warn("policymaster: upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.L.WithField("component", "policymaster").WithField("peer", r.RemoteAddr)

	if err := wire.Pong(conn, mustRecvPing(conn)); err != nil {
		logger.WithError(err).Warn("handshake failed")
		return
	}

	hello, err := conn.Recv()
	if err != nil || hello.Type != wire.TypeHello {
		logger.Warn("expected HELLO")
		return
	}
	fqdn := hello.Str(0)
	logger = logger.WithField("fqdn", fqdn)

	for {
		pdu, err := conn.Recv()
		if err != nil {
			return
		}
		switch pdu.Type {
		case wire.TypeCopydown:
			archive, err := m.buildArchive()
			if err != nil {
				logger.WithError(err).Warn("copydown build failed")
				conn.Send(wire.New(wire.TypeError, err.Error())) //nolint:errcheck
				continue
			}
			conn.Send(wire.PDU{Type: wire.TypeData, Parts: [][]byte{archive}}) //nolint:errcheck

		case wire.TypePolicy:
			img, err := m.compile()
			if err != nil {
				logger.WithError(err).Warn("policy compile failed")
				conn.Send(wire.New(wire.TypeError, err.Error())) //nolint:errcheck
				continue
			}
			conn.Send(wire.PDU{Type: wire.TypePolicy, Parts: [][]byte{img}}) //nolint:errcheck

		case wire.TypeBye:
			return

		default:
			conn.Send(wire.New(wire.TypeError, "unexpected phase")) //nolint:errcheck
		}
	}
}

// compile preprocesses and assembles SourceFile fresh for every request.
func (m *PolicyMaster) compile() ([]byte, error) {
	src, err := os.ReadFile(m.SourceFile)
	if err != nil {
		return nil, err
	}
	ctx := assembler.NewContext(m.IncludeRoot)
	expanded, err := assembler.Preprocess(ctx, filepath.Base(m.SourceFile), string(src))
	if err != nil {
		return nil, err
	}
	lines, err := assembler.Lex(filepath.Base(m.SourceFile), expanded)
	if err != nil {
		return nil, err
	}
	prog, err := assembler.Parse(lines)
	if err != nil {
		return nil, err
	}
	return assembler.Compile(prog, assembler.Options{Strip: true})
}

// buildArchive walks FilesRoot into a single BDFA byte stream.
func (m *PolicyMaster) buildArchive() ([]byte, error) {
	var buf bytes.Buffer
	err := filepath.Walk(m.FilesRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == m.FilesRoot || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(m.FilesRoot, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return bdfa.WriteEntry(&buf, bdfa.Entry{
			Mode:    uint32(info.Mode().Perm()),
			Mtime:   info.ModTime().Unix(),
			Name:    rel,
			Content: content,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("copydown walk: %w", err)
	}
	if err := bdfa.WriteTerminator(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
