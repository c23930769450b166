// Package app wires a trade-relay instance together from its Config and
// runs it until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rickgao/trade-relay/internal/audit"
	"github.com/rickgao/trade-relay/internal/config"
	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/httpapi"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/relay"
	"github.com/rickgao/trade-relay/internal/session"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/rickgao/trade-relay/internal/storage/memory"
	"github.com/rickgao/trade-relay/internal/storage/postgres"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is one running relay instance.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store    storage.Store
	hub      *hub.Hub
	sessions *session.Multiplexer
	server   *http.Server

	redis  *redis.Client
	bridge *relay.Bridge
	sink   *audit.Sink
}

// New builds every component named by cfg. The store is opened (and, for
// postgres, migrated) before New returns; nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	multiplier, err := decimal.NewFromString(cfg.Trading.PayoutMultiplier)
	if err != nil {
		return nil, fmt.Errorf("parse payout multiplier: %w", err)
	}

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, store: store}
	a.hub = hub.New(store, cfg.Hub.SubscriberBuffer, logger.Named("hub"))
	a.sessions = session.New(session.Config{
		Connector:        ConnectorConfig(cfg.Upstream),
		DefaultSymbols:   cfg.Upstream.DefaultSymbols,
		PayoutMultiplier: multiplier,
	}, store, a.hub, logger.Named("session"))

	if cfg.Relay.Enabled {
		a.redis = relay.NewClient(cfg.Relay)
		a.bridge = relay.New(a.redis, cfg.Relay.Channel, cfg.Instance.ID, a.hub, logger.Named("relay"))
		a.hub.Observe(a.bridge.Forward)
	}
	if cfg.Audit.Enabled {
		a.sink = audit.New(audit.NewWriter(cfg.Audit), audit.DefaultBuffer, logger.Named("audit"))
		a.hub.Observe(a.sink.Observe)
	}

	api := httpapi.NewServer(a.sessions, a.hub, store, logger.Named("http"))
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// ConnectorConfig maps the upstream section onto the per-session Connector settings.
func ConnectorConfig(up config.UpstreamConfig) connection.ConnectorConfig {
	cfg := connection.DefaultConnectorConfig()
	cfg.URL = up.URL
	cfg.AppID = up.AppID
	cfg.ReconnectBaseDelay = up.ReconnectBaseDelay
	cfg.MaxReconnectAttempts = up.MaxReconnectAttempts
	cfg.PingInterval = up.PingInterval
	cfg.PingTimeout = up.PingTimeout
	cfg.WriteTimeout = up.WriteTimeout
	cfg.EventBufferSize = up.EventBufferSize
	cfg.Currency = up.Currency
	return cfg
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		logger.Info("connecting to database",
			zap.String("host", cfg.Postgres.Host),
			zap.Int("port", cfg.Postgres.Port),
			zap.String("database", cfg.Postgres.Name),
		)
		store, err := postgres.Open(ctx, cfg.Postgres, logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		logger.Info("database connected")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Handler returns the HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP and runs the relay and audit pumps until ctx is done or
// one of them fails, then shuts everything down in dependency order.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		a.close()
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("instance_id", a.cfg.Instance.ID),
		)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.bridge != nil {
		g.Go(func() error { return a.bridge.Run(gctx) })
	}
	if a.sink != nil {
		g.Go(func() error { return a.sink.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	a.hub.Close()
	return errors.Join(errs...)
}

// close releases the store and the redis client.
func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	a.logger.Info("trade-relay stopped")
}
