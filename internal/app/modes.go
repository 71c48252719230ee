package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/feed"
	"github.com/alanyoungcy/bullbear/internal/keeper"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/server"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/server/ws"
	"github.com/alanyoungcy/bullbear/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the websocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	eng := a.startEngine(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, eng)
	return g.Wait()
}

// KeeperMode drives the configured games through their rounds.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	eng := a.startEngine(ctx, g, deps)
	if err := a.startKeeper(ctx, g, deps, eng); err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	return g.Wait()
}

// FeederMode streams Hermes prices into the shared price cache.
func (a *App) FeederMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feeder mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startFeeder(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API together with the keeper and the feeder when they
// are configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("keeper", a.cfg.RunsKeeper()),
		slog.Bool("feeder", a.cfg.RunsFeeder()),
	)
	g, ctx := errgroup.WithContext(ctx)
	eng := a.startEngine(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, eng)
	if a.cfg.RunsKeeper() {
		if err := a.startKeeper(ctx, g, deps, eng); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	if a.cfg.RunsFeeder() {
		a.startFeeder(ctx, g, deps)
	}
	return g.Wait()
}

// startEngine builds the engine with the event dispatcher as its sink and
// runs the dispatcher in g.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) *engine.Engine {
	reader := oracle.NewReader(deps.Prices, domain.SystemClock{})
	opts := engine.Options{
		DefaultMaxAge: a.cfg.Engine.DefaultMaxAge.Duration,
		ClaimWindow:   a.cfg.Engine.ClaimWindow.Duration,
	}

	// Receipts are built from reads only, so the dispatcher gets an engine
	// without a sink.
	rounds := engine.New(deps.Store, reader, deps.Sealer, nil, opts, a.logger)
	dd := service.DispatcherDeps{
		Bus:      deps.Bus,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
		Rounds:   rounds,
	}
	if deps.Receipts != nil {
		dd.Archive = deps.Receipts
	}
	dispatcher := service.NewDispatcher(dd, a.cfg.Engine.EventQueue, a.logger)
	g.Go(func() error {
		return ignoreCanceled(dispatcher.Run(ctx))
	})

	return engine.New(deps.Store, reader, deps.Sealer, dispatcher, opts, a.logger)
}

// startHTTPServer registers the API, starts the websocket hub and shuts the
// server down when ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Channels:       []string{service.EventChannel, feed.PriceChannel},
		ReplayStream:   service.EventStream,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	var receipts handler.ReceiptStore
	if deps.Receipts != nil {
		receipts = deps.Receipts
	}

	srv := server.NewServer(
		server.Config{
			Port:           a.cfg.Server.Port,
			CORSOrigins:    a.cfg.Server.CORSOrigins,
			AdminAPIKey:    a.cfg.Server.AdminAPIKey,
			RateLimit:      a.cfg.Server.RateLimit,
			RateWindow:     a.cfg.Server.RateWindow.Duration,
			EnvelopeMaxTTL: a.cfg.Server.EnvelopeMaxTTL.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
			Protocol: handler.NewProtocolHandler(eng, a.logger),
			Game:     handler.NewGameHandler(eng, a.logger),
			Round:    handler.NewRoundHandler(eng, receipts, a.logger),
			Bet:      handler.NewBetHandler(eng, a.logger),
			Ledger:   handler.NewLedgerHandler(eng, deps.Audit, deps.Store, a.logger),
		},
		server.Deps{Nonces: deps.Nonces, Limiter: deps.Limiter, Hub: hub},
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper loads the operator key and runs the keeper in g.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) error {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey: a.cfg.Keeper.PrivateKey,
		KeyFile:       a.cfg.Keeper.KeyFile,
		KeyPassword:   a.cfg.Keeper.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("load keeper key: %w", err)
	}
	a.logger.InfoContext(ctx, "keeper signing as", slog.String("authority", signer.Address()))

	k := keeper.New(keeper.Config{
		Games:   a.cfg.Keeper.Games,
		Tick:    a.cfg.Keeper.Tick.Duration,
		LockTTL: a.cfg.Keeper.LockTTL.Duration,
	}, eng, deps.Locks, domain.SystemClock{}, signer.Address(), a.logger)
	g.Go(func() error {
		return ignoreCanceled(k.Run(ctx))
	})
	return nil
}

// startFeeder runs the Hermes subscription in g.
func (a *App) startFeeder(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	f := feed.NewHermesFeed(feed.Config{
		URL:     a.cfg.Oracle.HermesURL,
		FeedIDs: a.cfg.Oracle.Feeds,
	}, deps.Prices, deps.Bus, a.logger)
	g.Go(func() error {
		return ignoreCanceled(f.Run(ctx))
	})
}
