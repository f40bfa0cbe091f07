// Command cardioctl drives the prediction pipeline and the local store from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cardiopredict/riskdash/internal/bootstrap"
	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/config"
	"github.com/cardiopredict/riskdash/internal/infra/predictionstore"
	"github.com/cardiopredict/riskdash/internal/infra/scoring"
	"github.com/cardiopredict/riskdash/pkg/logger"
)

var (
	configPath string
	logLevel   string
)

// env is what every subcommand needs: config, the opened store and the services on top of it.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *predictionstore.Store
	history prediction.HistoryService
	cleanup func()
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close prediction store", "error", err)
	}
	e.cleanup()
}

func (e *env) predictor() (prediction.Service, error) {
	client, err := scoring.NewClient(e.cfg.Predictor.BaseURL, e.cfg.Predictor.PredictPath, &http.Client{})
	if err != nil {
		return nil, err
	}
	cfg := prediction.Config{
		MaxAttempts:    e.cfg.Predictor.MaxAttempts,
		AttemptTimeout: e.cfg.Predictor.AttemptTimeout,
		BaseBackoff:    e.cfg.Predictor.BaseBackoff,
		ModelVersion:   e.cfg.Predictor.ModelVersion,
		UserID:         e.cfg.Predictor.UserID,
	}
	return prediction.NewService(cfg, client, e.store, e.logger), nil
}

func openEnv(ctx context.Context) (*env, error) {
	if configPath != "" {
		if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithLevel(logLevel)

	slot, cleanup := bootstrap.OpenSlot(cfg.Store.Slot, log)
	store, err := bootstrap.OpenStore(ctx, cfg.Store, slot, log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &env{
		cfg:     cfg,
		logger:  log,
		store:   store,
		history: prediction.NewHistoryService(store, nil, log),
		cleanup: cleanup,
	}, nil
}

// withEnv opens the store for the duration of one command.
func withEnv(run func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return run(cmd, args, e)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cardioctl",
		Short:         "Run risk predictions and manage the local prediction history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: CONFIG_PATH or configs/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newPredictCmd(),
		newHistoryCmd(),
		newShowCmd(),
		newDeleteCmd(),
		newClearCmd(),
		newExportCmd(),
		newSettingsCmd(),
		newMigrateCmd(),
		newBackendCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
