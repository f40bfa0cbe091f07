package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardiopredict/riskdash/internal/infra/config"
	"github.com/cardiopredict/riskdash/internal/infra/predictionstore"
)

const shutdownTimeout = 10 * time.Second

// Migrator moves legacy kv-slot history into the active store.
type Migrator interface {
	Migrate(ctx context.Context) (predictionstore.MigrationReport, error)
}

// App encapsulates the HTTP server lifecycle.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   *http.Server
	migrator Migrator
}

// NewApp is used by Wire to build the runnable app.
func NewApp(cfg *config.Config, logger *slog.Logger, server *http.Server, store *predictionstore.Store) *App {
	return &App{cfg: cfg, logger: logger.With("component", "bootstrap"), server: server, migrator: store}
}

// Run migrates legacy history, then serves HTTP until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.migrate(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// migrate never blocks startup; a failed drain is retried on the next boot.
func (a *App) migrate(ctx context.Context) {
	if a.migrator == nil {
		return
	}
	if report, err := a.migrator.Migrate(ctx); err != nil {
		a.logger.Warn("legacy history migration failed", "error", err, "records", report.Records)
	}
}
