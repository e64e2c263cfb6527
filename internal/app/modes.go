package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictx/internal/ledger"
	"github.com/alanyoungcy/predictx/internal/pipeline"
	"github.com/alanyoungcy/predictx/internal/server"
	"github.com/alanyoungcy/predictx/internal/server/handler"
	"github.com/alanyoungcy/predictx/internal/server/ws"
	"github.com/alanyoungcy/predictx/internal/service"
)

// services are the stateful components shared by every mode.
type services struct {
	markets     *service.MarketService
	predictions *service.PredictionService
}

func (a *App) buildServices(deps *Dependencies) *services {
	l := ledger.New(deps.MarketStore, deps.LockManager, ledger.Config{
		LockTTL:       a.cfg.Ledger.LockTTL.Duration,
		SettleTimeout: a.cfg.Ledger.SettleTimeout.Duration,
	}, a.logger)
	if deps.Settlement != nil {
		l = l.WithSettlement(deps.Settlement, deps.Contract, deps.StakeToken)
	}

	markets := service.NewMarketService(l, deps.MarketCache, deps.SignalBus, deps.AuditStore, a.logger).
		WithNotifier(deps.Notifier).
		WithMetrics(deps.Metrics)

	modelID := "ai"
	if a.cfg.LLM.Provider != "" {
		modelID = a.cfg.LLM.Model
	}
	predictions := service.NewPredictionService(
		markets,
		deps.PredictionStore,
		deps.StakeStore,
		deps.MarketData,
		deps.Forecasts,
		deps.SignalBus,
		deps.AuditStore,
		service.PredictionConfig{
			Liquidity:           a.cfg.Prediction.LiquidityDecimal(),
			DefaultHorizon:      a.cfg.Prediction.DefaultHorizon.Duration,
			TargetMultiplier:    a.cfg.Prediction.TargetMultiplier,
			CollaboratorTimeout: a.cfg.Prediction.CollaboratorTimeout.Duration,
			Operator:            a.cfg.Prediction.Operator,
			ModelID:             modelID,
		},
		a.logger,
	).WithNotifier(deps.Notifier).WithMetrics(deps.Metrics)

	return &services{markets: markets, predictions: predictions}
}

// APIMode serves HTTP and the websocket feed. Evaluation triggers are
// accepted but not queued; run a worker to process them.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps), nil)
	return g.Wait()
}

// WorkerMode runs the evaluator and the archiver without an HTTP surface.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, a.buildServices(deps), nil)
	return g.Wait()
}

// FullMode runs the API and the workers in one process. POST /admin/evaluate
// wakes the in-process evaluator.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	trigger := make(chan struct{}, 1)
	a.startWorkers(ctx, g, deps, svcs, trigger)
	a.startHTTPServer(ctx, g, deps, svcs, trigger)
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, trigger <-chan struct{}) {
	var evaluator pipeline.Looper
	if a.cfg.Evaluator.Enabled {
		evaluator = service.NewEvaluator(
			svcs.predictions, deps.PredictionStore, svcs.markets, deps.MarketData,
			a.cfg.Evaluator.Interval.Duration, a.cfg.Evaluator.Batch, a.logger,
		).WithTrigger(trigger)
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		archiver = pipeline.NewArchiver(deps.Archiver, retention, a.logger)
	}

	if evaluator == nil && archiver == nil {
		a.logger.WarnContext(ctx, "no background workers enabled")
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
		return
	}
	orch := pipeline.NewOrchestrator(evaluator, archiver, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, trigger chan<- struct{}) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(a.cfg.Mode, a.version, deps.Checks, a.logger),
			Markets:     handler.NewMarketHandler(svcs.markets, a.logger),
			Predictions: handler.NewPredictionHandler(svcs.predictions, a.logger),
			Events:      handler.NewEventsHandler(deps.SignalBus, service.EventLog, a.logger),
			Pipeline:    handler.NewPipelineHandler(trigger, a.logger),
		},
		server.Deps{
			Hub:     hub,
			Metrics: deps.Metrics,
			Limiter: deps.RateLimiter,
		},
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
