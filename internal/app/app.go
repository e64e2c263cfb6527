// Package app owns the process lifecycle: it wires stores, caches, the event
// bus and collaborators from config, then runs the HTTP surface, the
// background workers, or both.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/predictx/internal/config"
)

// Run modes accepted in config.Mode.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeFull   = "full"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	mu        sync.Mutex
	closers   []func()
	closeOnce sync.Once
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, version string, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails. Call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case ModeAPI, ModeWorker, ModeFull:
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.mu.Lock()
	a.closers = append(a.closers, cleanup)
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "application wired",
		slog.String("mode", mode),
		slog.String("version", a.version),
		slog.Group("backends", a.backendAttrs(deps)...),
	)

	switch mode {
	case ModeAPI:
		return a.APIMode(ctx, deps)
	case ModeWorker:
		return a.WorkerMode(ctx, deps)
	default:
		return a.FullMode(ctx, deps)
	}
}

// backendAttrs summarises which implementation backs each concern.
func (a *App) backendAttrs(deps *Dependencies) []any {
	store := "memory"
	if a.cfg.Postgres.Enabled {
		store = "postgres"
	}
	locks := "local"
	if a.cfg.Redis.Enabled {
		locks = "redis"
	}
	bus := strings.ToLower(a.cfg.Events.Backend)
	if bus == "" {
		bus = "local"
	}
	return []any{
		slog.String("store", store),
		slog.String("locks", locks),
		slog.String("events", bus),
		slog.Bool("forecasts", deps.Forecasts != nil),
		slog.Bool("settlement", deps.Settlement != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier != nil),
	}
}

// Close releases resources in reverse registration order. Later calls are
// no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application")
		a.mu.Lock()
		defer a.mu.Unlock()
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		a.closers = nil
	})
}
