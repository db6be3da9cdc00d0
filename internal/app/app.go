// Package app wires configuration into concrete dependencies and runs the
// copy-trading event loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/config"
)

// App owns the wired dependency graph and the run lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	deps    *Dependencies
	cleanup func()
}

// New creates an App. Dependencies are wired lazily in Run so that
// construction failures surface with a live context.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the market-data and detection layers, and
// blocks in the orchestrator until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.deps = deps
	a.cleanup = cleanup

	if deps.Book != nil {
		if err := deps.Book.Start(ctx); err != nil {
			return fmt.Errorf("app: start book store: %w", err)
		}
	}
	if err := deps.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("app: start fill sources: %w", err)
	}

	a.logger.Info("copy trader running",
		slog.String("trigger_mode", a.cfg.Trigger.Mode),
		slog.String("book_mode", a.cfg.Book.Mode),
		slog.Int("leaders", len(a.cfg.Leaders)),
	)

	runErr := deps.Orchestrator.Run(ctx)

	if err := deps.Coordinator.Stop(); err != nil {
		a.logger.Warn("stopping fill sources", slog.Any("error", err))
	}
	if deps.Book != nil {
		if err := deps.Book.Stop(); err != nil {
			a.logger.Warn("stopping book store", slog.Any("error", err))
		}
	}

	if runErr != nil {
		// An unexpected stop is alerted on every channel regardless of the
		// operator's event filter.
		if deps.Notifier != nil && !errors.Is(runErr, context.Canceled) {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = deps.Notifier.NotifyAll(nctx, "Copy trader stopped", runErr.Error())
			cancel()
		}
		return fmt.Errorf("app: %w", runErr)
	}
	return nil
}

// Close releases wired resources in reverse construction order. Safe to call
// after a failed Run.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}
