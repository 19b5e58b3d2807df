package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fpidot/pm-aggregator/internal/alert"
	"github.com/fpidot/pm-aggregator/internal/pipeline"
	"github.com/fpidot/pm-aggregator/internal/server"
	"github.com/fpidot/pm-aggregator/internal/server/handler"
	"github.com/fpidot/pm-aggregator/internal/server/ws"
	"github.com/fpidot/pm-aggregator/internal/service"
)

// components are the services and pipelines built on top of Dependencies.
type components struct {
	settings    *service.SettingsService
	contracts   *service.ContractService
	subscribers *service.SubscriberService
	evaluator   *alert.Evaluator
	digest      *alert.Digest
	commands    *alert.Commands
	discovery   *pipeline.DiscoveryOrchestrator
	refresh     *pipeline.PriceRefreshOrchestrator
	archiver    *pipeline.Archiver
	scheduler   *pipeline.Scheduler
}

func (a *App) build(deps *Dependencies) (*components, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", a.cfg.Schedule.Timezone, err)
	}

	c := &components{}
	c.settings = service.NewSettingsService(deps.Settings, deps.Audit, a.cfg.AdminSettings(), a.logger)
	c.contracts = service.NewContractService(deps.Contracts, deps.PriceCache, deps.Audit, a.logger)

	alertDeps := alert.Deps{
		Contracts:   deps.Contracts,
		Subscribers: deps.Subscribers,
		SMS:         deps.SMS,
		Limiter:     deps.Limiter,
		Bus:         deps.Bus,
		Metrics:     deps.Metrics,
		RateLimit: alert.RateLimit{
			Limit:  a.cfg.Alerts.SMSLimit,
			Window: a.cfg.Alerts.SMSWindow.Duration,
		},
	}
	c.evaluator = alert.NewEvaluator(alertDeps, a.logger)
	c.digest = alert.NewDigest(alertDeps, c.settings, a.logger)
	c.commands = alert.NewCommands(alertDeps, loc, a.logger)
	c.subscribers = service.NewSubscriberService(deps.Subscribers, c.settings, c.commands, deps.Audit, a.logger)

	c.discovery = pipeline.NewDiscoveryOrchestrator(deps.Sources, deps.Contracts, deps.Notifier, deps.Metrics, a.logger)
	c.refresh = pipeline.NewPriceRefreshOrchestrator(pipeline.RefreshDeps{
		Sources:   deps.Sources,
		Store:     deps.Contracts,
		Settings:  c.settings,
		Evaluator: c.evaluator,
		Cache:     deps.PriceCache,
		Bus:       deps.Bus,
		Metrics:   deps.Metrics,
	}, pipeline.RefreshConfig{Concurrency: a.cfg.Schedule.RefreshConcurrency}, a.logger)

	// The scheduler takes interfaces; a typed nil archiver would look set.
	var archiver pipeline.HistoryArchiver
	if deps.Blob != nil {
		c.archiver = pipeline.NewArchiver(deps.Contracts, deps.Blob, a.cfg.S3.Prefix, a.logger)
		archiver = c.archiver
	}
	c.scheduler = pipeline.NewScheduler(
		c.discovery, c.refresh, c.digest, archiver, c.settings, deps.Notifier,
		pipeline.SchedulerConfig{
			ArchiveCron: a.cfg.Schedule.ArchiveCron,
			RunOnStart:  a.cfg.Schedule.RunOnStart,
			MinInterval: a.cfg.Schedule.MinInterval.Duration,
			Location:    loc,
		}, a.logger)
	return c, nil
}

// FullMode runs the scheduler, the WebSocket hub and the HTTP API until
// ctx is cancelled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *components) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.scheduler.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, c)

	a.logger.InfoContext(ctx, "full mode running",
		slog.Int("sources", len(deps.Sources)),
		slog.Int("port", a.cfg.Server.Port),
	)
	return g.Wait()
}

// SchedulerMode runs the periodic passes without an HTTP surface.
func (a *App) SchedulerMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "scheduler mode running")
	return c.scheduler.Run(ctx)
}

// ServerMode serves the API and the event stream; passes run only when
// triggered over HTTP.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c *components) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// DiscoverMode runs one discovery pass and exits.
func (a *App) DiscoverMode(ctx context.Context, c *components) error {
	contracts, summary, err := c.discovery.DiscoverAll(ctx)
	if err != nil {
		return fmt.Errorf("app: discovery: %w", err)
	}
	a.logger.InfoContext(ctx, "discovery complete",
		slog.Int("contracts", len(contracts)),
		slog.Int("sources", len(summary.Sources)),
		slog.Duration("duration", summary.Duration),
		slog.Any("failed_sources", summary.Failed()),
	)
	return nil
}

// RefreshMode runs one price refresh pass and exits.
func (a *App) RefreshMode(ctx context.Context, c *components) error {
	summary, err := c.refresh.RefreshFollowed(ctx)
	if err != nil {
		return fmt.Errorf("app: refresh: %w", err)
	}
	a.logger.InfoContext(ctx, "refresh complete",
		slog.Int("followed", summary.Followed),
		slog.Int("updated", summary.Updated),
		slog.Int("missing", summary.Missing),
		slog.Int("failed", summary.Failed),
		slog.Int("alerts", summary.Alerts),
	)
	return nil
}

// DigestMode sends the daily update once and exits.
func (a *App) DigestMode(ctx context.Context, c *components) error {
	sent, err := c.digest.SendDailyUpdates(ctx)
	if err != nil {
		return fmt.Errorf("app: daily digest: %w", err)
	}
	a.logger.InfoContext(ctx, "daily digest complete", slog.Int("sent", sent))
	return nil
}

// newServer builds the HTTP server and the hub it serves on /ws.
func (a *App) newServer(deps *Dependencies, c *components) (*server.Server, *ws.Hub) {
	hub := ws.NewHub(deps.Bus, a.logger)
	srv := server.NewServer(
		server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			AdminKey:      a.cfg.Server.AdminKey,
			WebhookLimit:  a.cfg.Server.WebhookLimit,
			WebhookWindow: a.cfg.Server.WebhookWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(deps.Checks, a.logger),
			Contracts:   handler.NewContractHandler(c.contracts, a.logger),
			Settings:    handler.NewSettingsHandler(c.settings, a.logger),
			Subscribers: handler.NewSubscriberHandler(c.subscribers, a.logger),
			SMS:         handler.NewSMSHandler(c.commands, a.logger),
			Pipeline:    handler.NewPipelineHandler(c.discovery, c.refresh, c.digest, a.logger),
		},
		server.Deps{
			Hub:      hub,
			Gatherer: deps.Registry,
			Limiter:  deps.Limiter,
		},
		a.logger,
	)
	return srv, hub
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	srv, hub := a.newServer(deps, c)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
