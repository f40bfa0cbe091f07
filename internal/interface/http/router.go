package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardiopredict/riskdash/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler, proxy *ProxyHandler, logger *slog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	// rate limit buckets key on the socket peer, not on client-supplied headers
	_ = router.SetTrustedProxies(nil)
	router.Use(
		gin.Recovery(),
		requestLogger(logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		errorHandlingMiddleware(logger),
	)

	router.GET("/healthz", handler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := rateLimitMiddleware(cfg.HTTP.RateLimit, logger)

	api := router.Group("/api/v1", limited)
	{
		api.POST("/predictions", handler.Predict)
		api.GET("/predictions", handler.ListPredictions)
		api.DELETE("/predictions", handler.ClearPredictions)
		api.GET("/predictions/export", handler.ExportPredictions)
		api.GET("/predictions/summary", handler.Summary)
		api.GET("/predictions/:id", handler.GetPrediction)
		api.DELETE("/predictions/:id", handler.DeletePrediction)

		api.GET("/settings/:key", handler.GetSetting)
		api.PUT("/settings/:key", handler.PutSetting)

		api.GET("/store", handler.StoreStatus)
		api.GET("/model/metrics", handler.ModelMetrics)
		api.GET("/model/accuracy-history", handler.AccuracyHistory)
		api.GET("/model/dataset-samples", handler.DatasetSamples)
	}

	// same-origin relay used by the prediction pipeline
	router.POST("/api/backend/predict", proxyRateLimitMiddleware(cfg.HTTP.RateLimit, logger), proxy.Predict)

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
