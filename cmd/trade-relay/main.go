// trade-relay multiplexes per-user broker sessions onto one process and
// fans the resulting quotes, trades and session state out to dashboards.
//
// Usage:
//
//	trade-relay serve --config configs/trade-relay.example.yaml
//	trade-relay stream --symbol R_100 --symbol frxEURUSD
//	trade-relay version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/trade-relay/internal/app"
	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/logging"
	"github.com/rickgao/trade-relay/internal/version"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	cmd := &cli.Command{
		Name:    "trade-relay",
		Usage:   "Multi-user broker session relay",
		Version: version.String(),
		Commands: []*cli.Command{
			serveCommand(),
			streamCommand(),
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Println(version.String())
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "trade-relay:", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the relay: HTTP API, /ws broadcast and upstream sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file (empty uses defaults)",
				Sources: cli.EnvVars("TRADE_RELAY_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the config is expanded",
				Value: ".env",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadEnvFile(cmd.String("env-file")); err != nil {
		return err
	}

	cfg, err := config.LoadAndValidate(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting trade-relay", append(version.Fields(), zap.String("config", cmd.String("config")))...)
	logger.Info("configuration loaded",
		zap.String("instance_id", cfg.Instance.ID),
		zap.String("upstream_url", cfg.Upstream.URL),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("relay", cfg.Relay.Enabled),
		zap.Bool("audit", cfg.Audit.Enabled),
	)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	return a.Run(ctx)
}
