//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/cardiopredict/riskdash/internal/bootstrap"
	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/config"
	"github.com/cardiopredict/riskdash/internal/infra/predictionstore"
	"github.com/cardiopredict/riskdash/internal/infra/scoring"
	httpiface "github.com/cardiopredict/riskdash/internal/interface/http"
	"github.com/cardiopredict/riskdash/pkg/logger"
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		providePredictionConfig,
		provideProxyConfig,
		provideScoringClient,
		provideSlot,
		providePredictionStore,
		provideExportArchive,
		prediction.NewService,
		prediction.NewHistoryService,
		wire.Bind(new(prediction.ScoringClient), new(*scoring.Client)),
		wire.Bind(new(prediction.Store), new(*predictionstore.Store)),
		httpiface.NewHandler,
		httpiface.NewProxyHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil, nil
}
