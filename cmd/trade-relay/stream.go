package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/trade-relay/internal/app"
	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/logging"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// streamCommand opens a single upstream session and prints its normalized
// events to stdout, without a store or hub.
func streamCommand() *cli.Command {
	def := config.Default().Upstream
	return &cli.Command{
		Name:  "stream",
		Usage: "Open one upstream session and stream its events to the console",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "upstream websocket url", Value: def.URL},
			&cli.StringFlag{Name: "app-id", Usage: "upstream application id", Value: def.AppID},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "API token; empty opens a quotes-only session",
				Sources: cli.EnvVars("TRADE_RELAY_STREAM_TOKEN"),
			},
			&cli.StringSliceFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "symbol to subscribe (repeatable)", Value: []string{"R_100"}},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "stop after this long (0 runs until Ctrl+C)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print full event JSON"},
		},
		Action: streamAction,
	}
}

func streamAction(ctx context.Context, cmd *cli.Command) error {
	logger, err := logging.New(config.LogConfig{Level: "debug", Format: "console"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	up := config.Default().Upstream
	up.URL = cmd.String("url")
	up.AppID = cmd.String("app-id")
	conn := connection.NewConnector(app.ConnectorConfig(up), cmd.String("token"), nil, logger)

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Disconnect()

	for _, symbol := range cmd.StringSlice("symbol") {
		if _, err := conn.Subscribe(symbol); err != nil {
			logger.Warn("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	logger.Info("streaming started - press Ctrl+C to stop", zap.Strings("symbols", cmd.StringSlice("symbol")))
	verbose := cmd.Bool("verbose")
	var received int

	for {
		select {
		case <-ctx.Done():
			logger.Info("streaming stopped", zap.Int("events", received))
			return nil
		case <-conn.Exhausted():
			return fmt.Errorf("upstream session exhausted after %d attempts", conn.Attempts())
		case ev := <-conn.Events():
			received++
			printEvent(ev, verbose)
		}
	}
}

func printEvent(ev connection.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", ev.Kind(), data)
		return
	}

	switch e := ev.(type) {
	case connection.TickEvent:
		fmt.Printf("[TICK] symbol=%s quote=%s epoch=%s\n", e.Symbol, e.Quote, time.Unix(e.Epoch, 0).UTC().Format(time.RFC3339))
	case connection.StateEvent:
		fmt.Printf("[STATE] state=%s attempt=%d err=%v\n", e.State, e.Attempt, e.Err)
	case connection.AuthorizedEvent:
		fmt.Printf("[AUTHORIZED] login=%s currency=%s balance=%s\n", e.LoginID, e.Currency, e.Balance)
	case connection.DirectoryEvent:
		fmt.Printf("[DIRECTORY] symbols=%d\n", len(e.Symbols))
	case connection.ErrorEvent:
		fmt.Printf("[ERROR] op=%s code=%s message=%s\n", e.Op, e.Code, e.Message)
	default:
		fmt.Printf("[%s] %+v\n", ev.Kind(), ev)
	}
}
