package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cardiopredict/riskdash/internal/bootstrap"
	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/config"
	"github.com/cardiopredict/riskdash/internal/infra/exportstore"
	"github.com/cardiopredict/riskdash/internal/infra/kvslot"
	"github.com/cardiopredict/riskdash/internal/infra/predictionstore"
	"github.com/cardiopredict/riskdash/internal/infra/scoring"
)

func providePredictionConfig(cfg *config.Config) prediction.Config {
	return prediction.Config{
		MaxAttempts:    cfg.Predictor.MaxAttempts,
		AttemptTimeout: cfg.Predictor.AttemptTimeout,
		BaseBackoff:    cfg.Predictor.BaseBackoff,
		ModelVersion:   cfg.Predictor.ModelVersion,
		UserID:         cfg.Predictor.UserID,
	}
}

func provideProxyConfig(cfg *config.Config) config.ProxyConfig {
	return cfg.Proxy
}

// provideScoringClient leaves per-attempt deadlines to the pipeline context.
func provideScoringClient(cfg *config.Config) (*scoring.Client, error) {
	return scoring.NewClient(cfg.Predictor.BaseURL, cfg.Predictor.PredictPath, &http.Client{})
}

func provideSlot(cfg *config.Config, logger *slog.Logger) (kvslot.Slot, func()) {
	return bootstrap.OpenSlot(cfg.Store.Slot, logger)
}

func providePredictionStore(cfg *config.Config, slot kvslot.Slot, logger *slog.Logger) (*predictionstore.Store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg.Store, slot, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close prediction store", "error", err)
		}
	}
	return store, cleanup, nil
}

// provideExportArchive returns nil when archiving is disabled or misconfigured;
// exports still work, they are just not copied to object storage.
func provideExportArchive(cfg *config.Config, logger *slog.Logger) prediction.ExportArchive {
	if !cfg.Export.Enabled {
		return nil
	}
	storage, err := exportstore.NewS3Storage(
		cfg.Export.Endpoint,
		cfg.Export.AccessKey,
		cfg.Export.SecretKey,
		cfg.Export.Bucket,
		cfg.Export.Region,
		logger,
	)
	if err != nil {
		logger.Error("export archive disabled", "error", err)
		return nil
	}
	logger.Info("export archive enabled", "bucket", cfg.Export.Bucket)
	return storage
}
