package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/pkg/util"
)

// Handler wires the HTTP transport to the prediction services.
type Handler struct {
	predictor prediction.Service
	history   prediction.HistoryService
	logger    *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(predictor prediction.Service, history prediction.HistoryService, logger *slog.Logger) *Handler {
	return &Handler{
		predictor: predictor,
		history:   history,
		logger:    logger.With("component", "http.handler"),
	}
}

// Predict validates the form input and runs the resilient pipeline.
func (h *Handler) Predict(c *gin.Context) {
	var input prediction.PredictionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", err.Error(), err))
		return
	}
	if err := input.Validate(); err != nil {
		abortWithError(c, err)
		return
	}

	result, err := h.predictor.Predict(c.Request.Context(), input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListPredictions returns one page of history, optionally filtered by level.
func (h *Handler) ListPredictions(c *gin.Context) {
	level, err := prediction.ParseRiskLevel(c.Query("riskLevel"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	page, err := queryInt(c, "page")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", err.Error(), err))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", err.Error(), err))
		return
	}

	result, err := h.history.List(c.Request.Context(), prediction.HistoryFilters{RiskLevel: level, Page: page, Limit: limit})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPrediction(c *gin.Context) {
	record, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) DeletePrediction(c *gin.Context) {
	if err := h.history.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearPredictions(c *gin.Context) {
	if err := h.history.Clear(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportPredictions streams the whole history as a CSV or JSON download.
func (h *Handler) ExportPredictions(c *gin.Context) {
	format := prediction.ExportFormat(c.DefaultQuery("format", string(prediction.ExportCSV)))
	blob, err := h.history.Export(c.Request.Context(), format)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.Filename))
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.history.Summary(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetSetting(c *gin.Context) {
	value, err := h.history.GetSetting(c.Request.Context(), c.Param("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": value})
}

// PutSetting stores the raw JSON request body under the key.
func (h *Handler) PutSetting(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", err.Error(), err))
		return
	}
	if err := h.history.PutSetting(c.Request.Context(), c.Param("key"), json.RawMessage(body)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) StoreStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.history.Status())
}

func (h *Handler) ModelMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, prediction.CurrentModelMetrics(util.NowUTC()))
}

func (h *Handler) AccuracyHistory(c *gin.Context) {
	c.JSON(http.StatusOK, prediction.AccuracyHistory(util.NowUTC(), rand.Float64))
}

// DatasetSamples serves the scatter plot points; limit defaults to 100.
func (h *Handler) DatasetSamples(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, prediction.DatasetSamples(limit, rand.IntN))
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": h.history.Status()})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}
