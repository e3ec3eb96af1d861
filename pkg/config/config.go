// Package config decodes the TOML configuration surface for the mesh
// server and mesh agent daemons: the ambient configuration layer every
// real daemon needs around the policy execution core.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
	"github.com/clockwork-mesh/clockwork/pkg/command"
)

// Server is cmd/cwmeshd's configuration.
type Server struct {
	RouterAddr    string `toml:"router_addr"`
	PublisherAddr string `toml:"publisher_addr"`

	ACLPath        string        `toml:"acl_path"`
	AssemblerPath  string        `toml:"assembler_include_path"`
	CacheSize      int           `toml:"cache_size"`
	CacheTTL       time.Duration `toml:"cache_ttl"`
	CallTimeout    time.Duration `toml:"call_timeout"`
	AuthdbRoot     string        `toml:"authdb_root"`
}

// DefaultServer returns the daemon's built-in defaults, overridden by
// whatever the TOML document sets.
func DefaultServer() Server {
	return Server{
		RouterAddr:    "127.0.0.1:8701",
		PublisherAddr: "127.0.0.1:8702",
		ACLPath:       "/etc/clockwork/acl",
		CacheSize:     4096,
		CacheTTL:      10 * time.Minute,
		CallTimeout:   30 * time.Second,
		AuthdbRoot:    "/etc",
	}
}

// Agent is cmd/cwa's configuration.
type Agent struct {
	MasterAddr    string `toml:"master_addr"`
	PublisherAddr string `toml:"publisher_addr"`
	PolicyAddr    string `toml:"policy_addr"`

	PollInterval time.Duration `toml:"poll_interval"`
	LockPath     string        `toml:"lock_path"`
	KillswitchPath string      `toml:"killswitch_path"`

	LocalACLPath      string `toml:"local_acl_path"`
	DefaultDisposition string `toml:"default_disposition"`

	GatherersPath string `toml:"gatherers_path"`
	DiffTool      string `toml:"diff_tool"`
	LocalSysPrefix string `toml:"localsys_prefix"`
	CopydownRoot   string `toml:"copydown_root"`
}

// Policy is cmd/cwpol's configuration.
type Policy struct {
	Addr        string `toml:"addr"`
	SourceFile  string `toml:"source_file"`
	IncludeRoot string `toml:"include_root"`
	FilesRoot   string `toml:"files_root"`
}

// DefaultPolicy returns the policy master's built-in defaults.
func DefaultPolicy() Policy {
	return Policy{
		Addr:        "127.0.0.1:8703",
		SourceFile:  "/etc/clockwork/policy/main.pn",
		IncludeRoot: "/etc/clockwork/policy",
		FilesRoot:   "/etc/clockwork/policy/files",
	}
}

// LoadPolicy reads and decodes a policy master TOML document.
func LoadPolicy(path string) (Policy, error) {
	cfg := DefaultPolicy()
	if err := decodeInto(path, &cfg); err != nil {
		return Policy{}, err
	}
	return cfg, nil
}

// DefaultAgent returns the daemon's built-in defaults.
func DefaultAgent() Agent {
	return Agent{
		MasterAddr:         "127.0.0.1:8701",
		PublisherAddr:      "127.0.0.1:8702",
		PolicyAddr:         "127.0.0.1:8703",
		PollInterval:       5 * time.Minute,
		LockPath:           "/var/run/clockwork/agent.lock",
		KillswitchPath:     "/var/run/clockwork/killswitch",
		LocalACLPath:       "/etc/clockwork/local-acl",
		DefaultDisposition: "neutral",
		GatherersPath:      "/etc/clockwork/facts.d",
		CopydownRoot:       "/var/lib/clockwork/copydown",
	}
}

// Disposition resolves DefaultDisposition to the command.Disposition
// value the agent's local-ACL check falls back to on NEUTRAL.
func (a Agent) Disposition() (command.Disposition, error) {
	switch a.DefaultDisposition {
	case "allow":
		return command.Allow, nil
	case "deny":
		return command.Deny, nil
	case "neutral", "":
		return command.Neutral, nil
	default:
		return command.Neutral, fmt.Errorf("%w: unknown default_disposition %q", errdefs.ErrInvalidArgument, a.DefaultDisposition)
	}
}

// LoadServer reads and decodes a server TOML document, starting from
// DefaultServer and overriding whatever the document sets.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := decodeInto(path, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// LoadAgent reads and decodes an agent TOML document.
func LoadAgent(path string) (Agent, error) {
	cfg := DefaultAgent()
	if err := decodeInto(path, &cfg); err != nil {
		return Agent{}, err
	}
	return cfg, nil
}

func decodeInto(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config %s: %v", errdefs.ErrInvalidArgument, path, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse config %s: %v", errdefs.ErrInvalidArgument, path, err)
	}
	return nil
}
