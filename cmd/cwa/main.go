// Command cwa runs the mesh agent: it subscribes to the mesh server's
// COMMAND broadcasts and, on its own schedule, polls a policy master
// for a fresh configuration run.
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
		Name:  "cwa",
		Usage: "clockwork mesh agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to agent TOML configuration",
				Value: "/etc/clockwork/agent.toml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.L.WithError(err).Fatal("cwa exiting")
	}
}

func run(cliCtx *cli.Context) error {
	cfg := config.DefaultAgent()
	if _, err := os.Stat(cliCtx.String("config")); err == nil {
		loaded, err := config.LoadAgent(cliCtx.String("config"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	agent, err := mesh.NewAgent(cfg)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer agent.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.L.WithField("master", cfg.MasterAddr).WithField("poll_interval", cfg.PollInterval).Info("cwa starting")
	return agent.Run(ctx)
}
