package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/royaltymarket/internal/cache/redis"
	"github.com/alanyoungcy/royaltymarket/internal/market"
	"github.com/alanyoungcy/royaltymarket/internal/server"
	"github.com/alanyoungcy/royaltymarket/internal/server/handler"
	"github.com/alanyoungcy/royaltymarket/internal/server/ws"
	"github.com/alanyoungcy/royaltymarket/internal/service"
)

// archiveLockKey keeps concurrent instances from archiving the same months.
const archiveLockKey = "archive"

// ServerMode runs the HTTP API, the WebSocket hub, notification delivery and,
// when enabled, the periodic archiver. It blocks until ctx is cancelled or a
// component fails.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)

	// Without a bus the hub cannot subscribe, so events go to it directly.
	var local service.Broadcaster
	if deps.Bus == nil {
		local = hub
	}
	events := service.NewEventService(deps.Bus, local, deps.Notifier, a.logger)

	engine, err := a.newEngine(deps, events)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return events.Run(ctx) })

	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(ctx, deps) })
	}

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(a.logger, deps.Health...),
			Market: handler.NewMarketHandler(engine, a.logger),
			Events: handler.NewEventHandler(events, a.logger),
		}
		if deps.Payouts != nil {
			handlers.Payouts = handler.NewPayoutHandler(deps.Payouts, a.logger)
		}
		a.startHTTPServer(ctx, g, handlers, hub, deps)
	}

	return g.Wait()
}

// ArchiveMode runs a single archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: no archiver configured")
	}
	return a.archiveOnce(ctx, deps)
}

func (a *App) newEngine(deps *Dependencies, events *service.EventService) (*market.Engine, error) {
	return market.New(
		market.Config{
			Marketplace: common.HexToAddress(a.cfg.Market.Address),
			Owner:       common.HexToAddress(a.cfg.Market.Owner),
			Fees:        market.FeeSchedule{FeeBps: uint16(a.cfg.Market.FeeBps)},
		},
		deps.Stores,
		deps.Registry,
		deps.Payer,
		events,
		a.logger,
	)
}

// archiveLoop archives once at start and then every archive.interval.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	a.logger.InfoContext(ctx, "starting archiver loop", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.archiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// archiveOnce uploads audit entries older than the retention window. With
// redis it holds a lock so only one instance runs the pass.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	run := func(ctx context.Context) error {
		n, err := deps.Archiver.ArchiveEvents(ctx, before)
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Int64("entries", n),
			slog.Time("before", before),
		)
		return nil
	}

	if deps.LockManager == nil {
		return run(ctx)
	}
	held, err := redis.WithLock(ctx, deps.LockManager, archiveLockKey, 30*time.Minute, run)
	if err != nil {
		return err
	}
	if !held {
		a.logger.InfoContext(ctx, "archive pass skipped; another instance holds the lock")
	}
	return nil
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	handlers server.Handlers,
	hub *ws.Hub,
	deps *Dependencies,
) {
	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequireSignatures: a.cfg.Server.RequireSignatures,
		SignatureMaxAge:   a.cfg.Server.SignatureMaxAge.Duration,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
