// Command cwmeshd runs the mesh server: the router/publisher control
// plane operators submit commands to and agents subscribe to for
// broadcasts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/clockwork-mesh/clockwork/pkg/authdb"
	"github.com/clockwork-mesh/clockwork/pkg/command"
	"github.com/clockwork-mesh/clockwork/pkg/config"
	"github.com/clockwork-mesh/clockwork/pkg/mesh"
)

func main() {
	app := &cli.App{
		Name:  "cwmeshd",
		Usage: "clockwork mesh server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to server TOML configuration",
				Value: "/etc/clockwork/server.toml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.L.WithError(err).Fatal("cwmeshd exiting")
	}
}

func run(cliCtx *cli.Context) error {
	cfg := config.DefaultServer()
	if _, err := os.Stat(cliCtx.String("config")); err == nil {
		loaded, err := config.LoadServer(cliCtx.String("config"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := authdb.Open(cfg.AuthdbRoot, authdb.All)
	if err != nil {
		return fmt.Errorf("open authdb: %w", err)
	}
	defer db.Close()

	acl, err := loadACL(cfg.ACLPath)
	if err != nil {
		return fmt.Errorf("load global acl: %w", err)
	}

	srv := mesh.NewServer(cfg.RouterAddr, cfg.PublisherAddr, db, acl, cfg.CacheSize, cfg.CacheTTL, cfg.CallTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.L.WithField("router", cfg.RouterAddr).WithField("publisher", cfg.PublisherAddr).Info("cwmeshd listening")
	return srv.Run(ctx)
}

func loadACL(path string) (command.List, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return command.ReadACL(f)
}
