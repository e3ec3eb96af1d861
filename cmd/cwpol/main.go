// Command cwpol runs the policy master: it answers an agent's scheduled
// HELLO/COPYDOWN/POLICY/BYE sequence with a compiled policy program and
// a copy-down file archive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/clockwork-mesh/clockwork/pkg/config"
	"github.com/clockwork-mesh/clockwork/pkg/mesh"
)

func main() {
	app := &cli.App{
		Name:  "cwpol",
		Usage: "clockwork policy master",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to policy master TOML configuration",
				Value: "/etc/clockwork/policy.toml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.L.WithError(err).Fatal("cwpol exiting")
	}
}

func run(cliCtx *cli.Context) error {
	cfg := config.DefaultPolicy()
	if _, err := os.Stat(cliCtx.String("config")); err == nil {
		loaded, err := config.LoadPolicy(cliCtx.String("config"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	master := &mesh.PolicyMaster{
		Addr:        cfg.Addr,
		SourceFile:  cfg.SourceFile,
		IncludeRoot: cfg.IncludeRoot,
		FilesRoot:   cfg.FilesRoot,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.L.WithField("addr", cfg.Addr).Info("cwpol listening")
	return master.Run(ctx)
}
