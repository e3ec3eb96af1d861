package mesh

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/clockwork-mesh/clockwork/pkg/bdfa"
	"github.com/clockwork-mesh/clockwork/pkg/command"
	"github.com/clockwork-mesh/clockwork/pkg/config"
	"github.com/clockwork-mesh/clockwork/pkg/filter"
	"github.com/clockwork-mesh/clockwork/pkg/vm"
	"github.com/clockwork-mesh/clockwork/pkg/wire"
)

// Agent is the mesh agent reactor: a long-lived subscription to the
// server's COMMAND broadcasts, and an independent timed policy-master
// poll.
type Agent struct {
	cfg      config.Agent
	fqdn     string
	gatherer *FactGatherer
	killsw   *Killswitch

	localACLPath string
}

// NewAgent builds an Agent from its configuration and starts the
// killswitch watch. It does not load the local ACL list; that file is
// read each time a command is handled.
func NewAgent(cfg config.Agent) (*Agent, error) {
	fqdn, err := os.Hostname()
	if err != nil {
		fqdn = "unknown"
	}
	killsw, err := NewKillswitch(cfg.KillswitchPath)
	if err != nil {
		return nil, fmt.Errorf("killswitch watch: %w", err)
	}
	return &Agent{
		cfg:          cfg,
		fqdn:         fqdn,
		gatherer:     &FactGatherer{Path: cfg.GatherersPath},
		killsw:       killsw,
		localACLPath: cfg.LocalACLPath,
	}, nil
}

// Close stops the killswitch watch.
func (a *Agent) Close() error { return a.killsw.Close() }

func (a *Agent) loadLocalACL() command.List {
	f, err := os.Open(a.localACLPath)
	if err != nil {
		return nil
	}
	defer f.Close()
	acl, err := command.ReadACL(f)
	if err != nil {
		log.L.WithError(err).Warn("agent: local acl parse failed, treating as empty")
		return nil
	}
	return acl
}

func (a *Agent) saveLocalACL(acl command.List) {
	f, err := os.Create(a.localACLPath)
	if err != nil {
		log.L.WithError(err).Warn("agent: failed to persist local acl")
		return
	}
	defer f.Close()
	if err := command.WriteACL(f, acl); err != nil {
		log.L.WithError(err).Warn("agent: failed to write local acl")
	}
}

// Run starts the command-broadcast subscription and the policy-master
// poll loop, blocking until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	errc := make(chan error, 2)
	go func() { errc <- a.runCommandLoop(ctx) }()
	go func() { errc <- a.runPolicyLoop(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// runCommandLoop subscribes to the server's publisher socket and
// handles each inbound COMMAND to completion before the next Recv,
// matching the server side's one-PDU-at-a-time reactor discipline.
func (a *Agent) runCommandLoop(ctx context.Context) error {
	publisherURL := "ws://" + a.cfg.PublisherAddr + "/"
	conn, err := wire.Dial(ctx, publisherURL, uuid.NewString())
	if err != nil {
		return fmt.Errorf("publisher dial: %w", err)
	}
	defer conn.Close()

	if err := wire.Ping(conn); err != nil {
		return fmt.Errorf("publisher handshake: %w", err)
	}

	routerURL := "ws://" + a.cfg.MasterAddr + "/"
	router, err := wire.Dial(ctx, routerURL, uuid.NewString())
	if err != nil {
		return fmt.Errorf("router dial: %w", err)
	}
	defer router.Close()
	if err := wire.Ping(router); err != nil {
		return fmt.Errorf("router handshake: %w", err)
	}

	for {
		pdu, err := conn.Recv()
		if err != nil {
			return err
		}
		if pdu.Type != wire.TypeCommand {
			continue
		}
		a.handleCommand(router, pdu)
	}
}

// handleCommand implements COMMAND handling: local-ACL check, lazy fact
// gathering, filter evaluation, then either OPTOUT or run-on-a-fresh-VM
// followed by RESULT.
func (a *Agent) handleCommand(router *wire.Conn, pdu wire.PDU) {
	if len(pdu.Parts) < 4 {
		log.L.Warn("agent: malformed COMMAND broadcast, too few parts")
		return
	}
	serial := pdu.Str(0)
	principal := command.Principal(pdu.Str(1))
	cmdText := pdu.Str(2)
	img := pdu.Parts[3]
	filterText := pdu.Str(4)

	cmd, err := command.Parse(cmdText, command.Exact)
	if err != nil {
		log.L.WithError(err).Warn("agent: malformed command in broadcast")
		return
	}

	acl := a.loadLocalACL()
	disp := acl.Check(principal, cmd)
	if disp == command.Neutral {
		def, err := a.cfg.Disposition()
		if err != nil {
			def = command.Neutral
		}
		disp = def
	}
	if disp != command.Allow {
		a.publishOptout(router, serial)
		return
	}

	facts, err := a.gatherer.Facts()
	if err != nil {
		log.L.WithError(err).Warn("agent: fact gathering failed")
		facts = filter.Facts{}
	}
	filters, err := filter.ParseList(filterText)
	if err != nil || !filter.MatchAll(filters, facts) {
		a.publishOptout(router, serial)
		return
	}

	status, output := a.runBytecode(img)

	if err := router.Send(wire.New(wire.TypeResult, serial, a.fqdn, strconv.Itoa(status), output)); err != nil {
		log.L.WithError(err).Warn("agent: failed to publish result")
	}
}

func (a *Agent) publishOptout(router *wire.Conn, serial string) {
	if err := router.Send(wire.New(wire.TypeOptout, serial, a.fqdn)); err != nil {
		log.L.WithError(err).Warn("agent: failed to publish optout")
	}
}

// runBytecode executes img on a fresh VM, so the AuthDB handle, Augeas
// handle, open-dir slots, and heap never carry state between runs, and
// captures only the first output line.
func (a *Agent) runBytecode(img []byte) (int, string) {
	machine := vm.New()
	machine.LocalSysPrefix = a.cfg.LocalSysPrefix
	machine.DiffTool = a.cfg.DiffTool

	var out bytes.Buffer
	machine.Stdout = &out
	machine.Stderr = &out

	if err := machine.Load(img); err != nil {
		return 1, err.Error()
	}
	if err := machine.Run(); err != nil {
		return 1, err.Error()
	}

	firstLine := ""
	if sc := bufio.NewScanner(strings.NewReader(out.String())); sc.Scan() {
		firstLine = sc.Text()
	}
	return 0, firstLine
}

// runPolicyLoop alternates between sleeping for at most PollInterval and
// performing one HELLO/COPYDOWN/POLICY/BYE configuration run.
func (a *Agent) runPolicyLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Agent) runOnce(ctx context.Context) {
	if a.killsw.Active() {
		log.L.Info("agent: killswitch active, skipping run")
		return
	}

	lock, err := AcquireRunLock(a.cfg.LockPath)
	if err != nil {
		log.L.WithError(err).Warn("agent: run already in progress, skipping")
		return
	}
	defer lock.Release() //nolint:errcheck

	url := "ws://" + a.cfg.PolicyAddr + "/"
	conn, err := wire.Dial(ctx, url, uuid.NewString())
	if err != nil {
		log.L.WithError(err).Warn("agent: policy master unreachable")
		return
	}
	defer conn.Close()

	logger := log.L.WithField("component", "policy-run").WithField("fqdn", a.fqdn)

	start := time.Now()
	if err := a.helloPhase(conn); err != nil {
		logger.WithError(err).Warn("hello phase failed")
		return
	}
	logger.WithField("elapsed", time.Since(start)).Debug("hello complete")

	start = time.Now()
	if err := a.copydownPhase(conn); err != nil {
		logger.WithError(err).Warn("copydown phase failed")
		return
	}
	logger.WithField("elapsed", time.Since(start)).Debug("copydown complete")

	start = time.Now()
	img, err := a.policyPhase(conn)
	if err != nil {
		logger.WithError(err).Warn("policy phase failed")
		return
	}
	logger.WithField("elapsed", time.Since(start)).Debug("policy fetched")

	start = time.Now()
	a.executePolicy(conn, img)
	logger.WithField("elapsed", time.Since(start)).Debug("policy executed")

	if err := conn.Send(wire.New(wire.TypeBye)); err != nil {
		logger.WithError(err).Warn("bye failed")
	}
}

func (a *Agent) helloPhase(conn *wire.Conn) error {
	if err := wire.Ping(conn); err != nil {
		return err
	}
	return conn.Send(wire.New(wire.TypeHello, a.fqdn))
}

// copydownPhase fetches and unpacks the BDFA archive under the
// configured CopydownRoot; each entry is written at its archive name
// relative to that root so the policy's files are visible to fs.*
// built-ins executed afterward.
func (a *Agent) copydownPhase(conn *wire.Conn) error {
	if err := conn.Send(wire.New(wire.TypeCopydown)); err != nil {
		return err
	}
	pdu, err := conn.Recv()
	if err != nil {
		return err
	}
	if pdu.Type != wire.TypeData || len(pdu.Parts) == 0 {
		return fmt.Errorf("expected copydown DATA, got %s", pdu.Type)
	}
	entries, err := bdfa.ReadAll(bytes.NewReader(pdu.Parts[0]))
	if err != nil {
		return err
	}
	for _, e := range entries {
		dest := filepath.Join(a.cfg.CopydownRoot, e.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("copydown mkdir: %w", err)
		}
		if err := os.WriteFile(dest, e.Content, os.FileMode(e.Mode)&os.ModePerm); err != nil {
			return fmt.Errorf("copydown write %s: %w", e.Name, err)
		}
		mtime := time.Unix(e.Mtime, 0)
		os.Chtimes(dest, mtime, mtime) //nolint:errcheck
	}
	log.L.WithField("entries", len(entries)).Debug("copydown unpacked")
	return nil
}

func (a *Agent) policyPhase(conn *wire.Conn) ([]byte, error) {
	facts, err := a.gatherer.Facts()
	if err != nil {
		facts = filter.Facts{}
	}
	var factLine strings.Builder
	first := true
	for k, v := range facts {
		if !first {
			factLine.WriteByte(';')
		}
		first = false
		fmt.Fprintf(&factLine, "%s=%s", k, v)
	}
	if err := conn.Send(wire.New(wire.TypePolicy, a.fqdn, factLine.String())); err != nil {
		return nil, err
	}
	pdu, err := conn.Recv()
	if err != nil {
		return nil, err
	}
	if pdu.Type != wire.TypePolicy || len(pdu.Parts) == 0 {
		return nil, fmt.Errorf("expected POLICY bytecode reply, got %s", pdu.Type)
	}
	return pdu.Parts[0], nil
}

func (a *Agent) executePolicy(conn *wire.Conn, img []byte) {
	machine := vm.New()
	machine.LocalSysPrefix = a.cfg.LocalSysPrefix
	machine.DiffTool = a.cfg.DiffTool
	machine.SetACLs(a.loadLocalACL())
	machine.SetPeer(&policyPeer{conn: conn})

	if err := machine.Load(img); err != nil {
		log.L.WithError(err).Warn("agent: policy bytecode load failed")
		return
	}
	if err := machine.Run(); err != nil {
		log.L.WithError(err).Warn("agent: policy run failed")
	}
	a.saveLocalACL(machine.ACLs())
}
