package prediction

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/cardiopredict/riskdash/pkg/errors"
	"github.com/cardiopredict/riskdash/pkg/util"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// HistoryService serves the read paths of the dashboard from the local store.
type HistoryService interface {
	List(ctx context.Context, filters HistoryFilters) (Page, error)
	Get(ctx context.Context, id string) (PredictionResult, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Summary(ctx context.Context) (Summary, error)
	Export(ctx context.Context, format ExportFormat) (ExportBlob, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage) error
	GetSetting(ctx context.Context, key string) (json.RawMessage, error)
	Status() StoreStatus
}

type historyService struct {
	store   Store
	archive ExportArchive
	logger  *slog.Logger
	now     func() time.Time
}

// NewHistoryService builds the history facade. archive may be nil.
func NewHistoryService(store Store, archive ExportArchive, logger *slog.Logger) HistoryService {
	return &historyService{
		store:   store,
		archive: archive,
		logger:  logger.With("component", "prediction.history"),
		now:     util.NowUTC,
	}
}

// List filters by risk level (when set) and paginates with offset=(page-1)*limit.
// Total and HasMore are computed against the filtered set.
func (h *historyService) List(ctx context.Context, filters HistoryFilters) (Page, error) {
	page := filters.Page
	if page < 1 {
		page = defaultPage
	}
	limit := filters.Limit
	if limit < 1 {
		limit = defaultLimit
	}

	records, err := h.filtered(ctx, filters.RiskLevel)
	if err != nil {
		return Page{}, err
	}

	total := len(records)
	offset := (page - 1) * limit
	data := []PredictionResult{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		data = records[offset:end]
	}

	return Page{
		Data:    data,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: offset+limit < total,
	}, nil
}

func (h *historyService) filtered(ctx context.Context, level RiskLevel) ([]PredictionResult, error) {
	if level != "" {
		if idx, ok := h.store.(LevelIndex); ok {
			records, err := idx.GetByRiskLevel(ctx, level)
			if err != nil {
				return nil, apperrors.Wrap(CodePersistenceFailure, "failed to read prediction history", err)
			}
			return records, nil
		}
	}

	records, err := h.store.GetAll(ctx)
	if err != nil {
		return nil, apperrors.Wrap(CodePersistenceFailure, "failed to read prediction history", err)
	}
	if level == "" {
		return records, nil
	}
	out := make([]PredictionResult, 0, len(records))
	for _, rec := range records {
		if rec.RiskLevel == level {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (h *historyService) Get(ctx context.Context, id string) (PredictionResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return PredictionResult{}, apperrors.Wrap(CodeInvalidInput, "prediction id cannot be empty", nil)
	}
	record, ok, err := h.store.GetByID(ctx, id)
	if err != nil {
		return PredictionResult{}, apperrors.Wrap(CodePersistenceFailure, "failed to read prediction", err)
	}
	if !ok {
		return PredictionResult{}, apperrors.Wrap(CodeNotFound, "prediction not found", nil)
	}
	return record, nil
}

func (h *historyService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.Wrap(CodeInvalidInput, "prediction id cannot be empty", nil)
	}
	if err := h.store.Delete(ctx, id); err != nil {
		return apperrors.Wrap(CodePersistenceFailure, "failed to delete prediction", err)
	}
	h.logger.Info("prediction deleted", "id", id)
	return nil
}

func (h *historyService) Clear(ctx context.Context) error {
	if err := h.store.Clear(ctx); err != nil {
		return apperrors.Wrap(CodePersistenceFailure, "failed to clear predictions", err)
	}
	h.logger.Info("prediction history cleared")
	return nil
}

func (h *historyService) Summary(ctx context.Context) (Summary, error) {
	records, err := h.store.GetAll(ctx)
	if err != nil {
		return Summary{}, apperrors.Wrap(CodePersistenceFailure, "failed to read prediction history", err)
	}
	summary := Summary{Total: len(records)}
	for _, rec := range records {
		switch rec.RiskLevel {
		case RiskHigh:
			summary.High++
		case RiskMedium:
			summary.Medium++
		case RiskLow:
			summary.Low++
		}
	}
	return summary, nil
}

// Export renders the whole history in store order. CSV columns are
// Date,Age,Gender,Risk Score,Risk Level; JSON is the pretty-printed record array.
func (h *historyService) Export(ctx context.Context, format ExportFormat) (ExportBlob, error) {
	records, err := h.store.GetAll(ctx)
	if err != nil {
		return ExportBlob{}, apperrors.Wrap(CodePersistenceFailure, "failed to read prediction history", err)
	}

	var blob ExportBlob
	switch format {
	case ExportJSON:
		if records == nil {
			records = []PredictionResult{}
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return ExportBlob{}, fmt.Errorf("encode json export: %w", err)
		}
		blob = ExportBlob{Filename: "predictions.json", ContentType: "application/json", Data: data}
	case ExportCSV, "":
		data, err := encodeCSV(records)
		if err != nil {
			return ExportBlob{}, fmt.Errorf("encode csv export: %w", err)
		}
		blob = ExportBlob{Filename: "predictions.csv", ContentType: "text/csv", Data: data}
	default:
		return ExportBlob{}, apperrors.Wrap(CodeInvalidInput, fmt.Sprintf("unsupported export format %q", format), nil)
	}

	h.archiveBlob(ctx, blob)
	return blob, nil
}

func encodeCSV(records []PredictionResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Date", "Age", "Gender", "Risk Score", "Risk Level"}); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			util.LocaleDate(rec.CreatedAt),
			strconv.Itoa(rec.Input.Age),
			string(rec.Input.Gender),
			strconv.Itoa(rec.RiskScore),
			string(rec.RiskLevel),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (h *historyService) archiveBlob(ctx context.Context, blob ExportBlob) {
	if h.archive == nil {
		return
	}
	ext := strings.TrimPrefix(blob.Filename[strings.LastIndex(blob.Filename, "."):], ".")
	key := fmt.Sprintf("exports/%s.%s", h.now().Format("20060102T150405.000Z"), ext)
	if err := h.archive.Put(ctx, key, blob.Data, blob.ContentType); err != nil {
		h.logger.Warn("archive export failed", "key", key, "error", err)
		return
	}
	h.logger.Info("export archived", "key", key, "bytes", len(blob.Data))
}

func (h *historyService) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperrors.Wrap(CodeInvalidInput, "setting key cannot be empty", nil)
	}
	if !json.Valid(value) {
		return apperrors.Wrap(CodeInvalidInput, "setting value must be valid JSON", nil)
	}
	if err := h.store.PutSetting(ctx, key, value); err != nil {
		return apperrors.Wrap(CodePersistenceFailure, "failed to save setting", err)
	}
	return nil
}

func (h *historyService) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	value, ok, err := h.store.GetSetting(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, apperrors.Wrap(CodePersistenceFailure, "failed to read setting", err)
	}
	if !ok {
		return nil, apperrors.Wrap(CodeNotFound, "setting not found", nil)
	}
	return value, nil
}

func (h *historyService) Status() StoreStatus {
	if r, ok := h.store.(StatusReporter); ok {
		return r.Status()
	}
	return StoreStatus{Backend: "unknown"}
}
