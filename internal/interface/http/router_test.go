package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/config"
	apperrors "github.com/cardiopredict/riskdash/pkg/errors"
)

const validInput = `{"age":52,"gender":"female","cholesterol":210,"bloodPressureSystolic":135,"bloodPressureDiastolic":85,"smoking":false,"diabetes":false}`

func TestRouter_PredictSuccess(t *testing.T) {
	want := prediction.PredictionResult{ID: "pred-1", RiskScore: 42, RiskLevel: prediction.RiskMedium}
	predictor := &stubPredictor{
		predictFn: func(ctx context.Context, in prediction.PredictionInput) (prediction.PredictionResult, error) {
			require.Equal(t, 52, in.Age)
			require.Equal(t, prediction.GenderFemale, in.Gender)
			return want, nil
		},
	}

	rec := performRequest(t, newRouterUnderTest(t, predictor, &stubHistory{}, nil), http.MethodPost, "/api/v1/predictions", validInput)
	require.Equal(t, http.StatusOK, rec.Code)

	var got prediction.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.RiskLevel, got.RiskLevel)
}

func TestRouter_PredictValidationFailure(t *testing.T) {
	predictor := &stubPredictor{}
	rec := performRequest(t, newRouterUnderTest(t, predictor, &stubHistory{}, nil), http.MethodPost, "/api/v1/predictions",
		`{"age":10,"gender":"female","cholesterol":210,"bloodPressureSystolic":135,"bloodPressureDiastolic":85}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeErrorBody(t, rec.Body.Bytes())
	require.Equal(t, prediction.CodeInvalidInput, body["error"]["code"])
	require.Contains(t, body["error"]["message"], "age")
	require.Zero(t, predictor.calls)
}

func TestRouter_PredictInvalidJSON(t *testing.T) {
	rec := performRequest(t, newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, nil), http.MethodPost, "/api/v1/predictions", `{"age":"old"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])
}

func TestRouter_PredictFailureStatuses(t *testing.T) {
	cases := map[string]int{
		prediction.CodeColdStartExhausted: http.StatusGatewayTimeout,
		prediction.CodeUpstreamRejected:   http.StatusBadGateway,
		prediction.CodeNetworkUnavailable: http.StatusServiceUnavailable,
	}
	for code, status := range cases {
		t.Run(code, func(t *testing.T) {
			predictor := &stubPredictor{
				predictFn: func(context.Context, prediction.PredictionInput) (prediction.PredictionResult, error) {
					return prediction.PredictionResult{}, apperrors.Wrap(code, "upstream trouble", &prediction.PredictionError{Kind: prediction.FailureKind(code), Attempts: 8})
				},
			}
			rec := performRequest(t, newRouterUnderTest(t, predictor, &stubHistory{}, nil), http.MethodPost, "/api/v1/predictions", validInput)
			require.Equal(t, status, rec.Code)
			body := decodeErrorBody(t, rec.Body.Bytes())
			require.Equal(t, code, body["error"]["code"])
			require.Equal(t, "upstream trouble", body["error"]["message"])
		})
	}
}

func TestRouter_ListPredictions(t *testing.T) {
	history := &stubHistory{
		listFn: func(ctx context.Context, f prediction.HistoryFilters) (prediction.Page, error) {
			require.Equal(t, prediction.RiskHigh, f.RiskLevel)
			require.Equal(t, 2, f.Page)
			require.Equal(t, 5, f.Limit)
			return prediction.Page{Data: []prediction.PredictionResult{{ID: "a"}}, Total: 6, Page: 2, Limit: 5}, nil
		},
	}
	rec := performRequest(t, newRouterUnderTest(t, &stubPredictor{}, history, nil), http.MethodGet, "/api/v1/predictions?riskLevel=high&page=2&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page prediction.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 6, page.Total)
	require.Len(t, page.Data, 1)
}

func TestRouter_ListPredictionsRejectsBadQuery(t *testing.T) {
	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, nil)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/predictions?riskLevel=extreme", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = performRequest(t, router, http.MethodGet, "/api/v1/predictions?page=two", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GetPredictionNotFound(t *testing.T) {
	history := &stubHistory{
		getFn: func(ctx context.Context, id string) (prediction.PredictionResult, error) {
			require.Equal(t, "missing", id)
			return prediction.PredictionResult{}, apperrors.Wrap(prediction.CodeNotFound, "prediction not found", nil)
		},
	}
	rec := performRequest(t, newRouterUnderTest(t, &stubPredictor{}, history, nil), http.MethodGet, "/api/v1/predictions/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, prediction.CodeNotFound, decodeErrorBody(t, rec.Body.Bytes())["error"]["code"])
}

func TestRouter_ExportCSV(t *testing.T) {
	history := &stubHistory{
		exportFn: func(ctx context.Context, format prediction.ExportFormat) (prediction.ExportBlob, error) {
			require.Equal(t, prediction.ExportCSV, format)
			return prediction.ExportBlob{Filename: "predictions.csv", ContentType: "text/csv", Data: []byte("Date,Age,Gender,Risk Score,Risk Level")}, nil
		},
	}
	rec := performRequest(t, newRouterUnderTest(t, &stubPredictor{}, history, nil), http.MethodGet, "/api/v1/predictions/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "predictions.csv")
	require.Equal(t, "Date,Age,Gender,Risk Score,Risk Level", rec.Body.String())
}

func TestRouter_DeleteAndClear(t *testing.T) {
	history := &stubHistory{}
	router := newRouterUnderTest(t, &stubPredictor{}, history, nil)

	rec := performRequest(t, router, http.MethodDelete, "/api/v1/predictions/pred-9", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"pred-9"}, history.deleted)

	rec = performRequest(t, router, http.MethodDelete, "/api/v1/predictions", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, history.clears)
}

func TestRouter_Settings(t *testing.T) {
	history := &stubHistory{settings: map[string]json.RawMessage{}}
	router := newRouterUnderTest(t, &stubPredictor{}, history, nil)

	rec := performRequest(t, router, http.MethodPut, "/api/v1/settings/theme", `{"mode":"dark"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = performRequest(t, router, http.MethodGet, "/api/v1/settings/theme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"key":"theme","value":{"mode":"dark"}}`, rec.Body.String())
}

func TestRouter_ModelMetricsAndStore(t *testing.T) {
	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, nil)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/model/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var card prediction.ModelMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	require.Equal(t, 0.7334, card.Accuracy)
	require.Equal(t, [][]int{{5411, 1527}, {2131, 4654}}, card.ConfusionMatrix)

	rec = performRequest(t, router, http.MethodGet, "/api/v1/store", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"backend":"primary","driver":"sqlite"}`, rec.Body.String())
}

func TestRouter_ModelInsightsSeries(t *testing.T) {
	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, nil)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/model/accuracy-history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []prediction.AccuracyPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 31)
	require.Equal(t, time.Now().UTC().Format("2006-01-02"), history[30].Date)

	rec = performRequest(t, router, http.MethodGet, "/api/v1/model/dataset-samples", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var samples []prediction.DatasetSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
	require.Len(t, samples, prediction.DefaultDatasetSamples)

	rec = performRequest(t, router, http.MethodGet, "/api/v1/model/dataset-samples?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
	require.Len(t, samples, 5)
	for _, s := range samples {
		require.GreaterOrEqual(t, s.Age, 30)
		require.LessOrEqual(t, s.Cholesterol, 300)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/model/dataset-samples?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ProxyPassesUpstreamStatusAndJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"age":50}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"bad ap_hi"}`))
	}))
	defer upstream.Close()

	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, &config.ProxyConfig{UpstreamURL: upstream.URL, UpstreamPath: "/predict", Timeout: time.Second})
	rec := performRequest(t, router, http.MethodPost, "/api/backend/predict", `{"age":50}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.JSONEq(t, `{"detail":"bad ap_hi"}`, rec.Body.String())
}

func TestRouter_ProxyWrapsNonJSONBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>Service waking up</html>"))
	}))
	defer upstream.Close()

	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, &config.ProxyConfig{UpstreamURL: upstream.URL})
	rec := performRequest(t, router, http.MethodPost, "/api/backend/predict", `{"age":50}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"raw":"<html>Service waking up</html>"}`, rec.Body.String())
}

func TestRouter_ProxyTransportFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, &config.ProxyConfig{UpstreamURL: "http://" + addr})
	rec := performRequest(t, router, http.MethodPost, "/api/backend/predict", `{"age":50}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newRouterUnderTest(t, &stubPredictor{}, &stubHistory{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predictions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	server := NewRouter(cfg, NewHandler(&stubPredictor{}, &stubHistory{}, newTestLogger()), NewProxyHandler(cfg.Proxy, newTestLogger()), newTestLogger())

	for i := 0; i < 2; i++ {
		rec := performRequest(t, server, http.MethodGet, "/api/v1/predictions/summary", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := performRequest(t, server, http.MethodGet, "/api/v1/predictions/summary", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// health checks are not limited
	rec = performRequest(t, server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ProxyLimiterIsSeparateAndExemptsLoopback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"risk":1}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.HTTP.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	cfg.Proxy = config.ProxyConfig{UpstreamURL: upstream.URL, Timeout: time.Second}
	server := NewRouter(cfg, NewHandler(&stubPredictor{}, &stubHistory{}, newTestLogger()), NewProxyHandler(cfg.Proxy, newTestLogger()), newTestLogger())

	// the pipeline's own retries arrive over loopback
	for i := 0; i < 8; i++ {
		rec := performRequestFrom(t, server, "127.0.0.1:40000", nil, http.MethodPost, "/api/backend/predict", `{"age":50}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := performRequestFrom(t, server, "192.0.2.7:1234", nil, http.MethodPost, "/api/backend/predict", `{"age":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	spoofed := map[string]string{"X-Forwarded-For": "127.0.0.1"}
	rec = performRequestFrom(t, server, "192.0.2.7:1234", spoofed, http.MethodPost, "/api/backend/predict", `{"age":50}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// the API bucket for the same client is untouched
	rec = performRequestFrom(t, server, "192.0.2.7:1234", nil, http.MethodGet, "/api/v1/predictions/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIPRateLimiterRefills(t *testing.T) {
	limiter := newIPRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	now := time.Now()
	require.True(t, limiter.allow("1.2.3.4", now))
	require.False(t, limiter.allow("1.2.3.4", now))
	require.True(t, limiter.allow("5.6.7.8", now))
	require.True(t, limiter.allow("1.2.3.4", now.Add(time.Second)))
}

func TestFromDomainErrorCanceled(t *testing.T) {
	httpErr := fromDomainError(context.Canceled)
	require.Equal(t, http.StatusRequestTimeout, httpErr.Status)

	httpErr = fromDomainError(errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, httpErr.Status)
	require.Equal(t, "internal_error", httpErr.Code)
}

func performRequest(t *testing.T, server *http.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func performRequestFrom(t *testing.T, server *http.Server, remoteAddr string, headers map[string]string, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = remoteAddr
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Address:        ":0",
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Proxy: config.ProxyConfig{UpstreamURL: "http://127.0.0.1:1", UpstreamPath: "/predict"},
	}
}

func newRouterUnderTest(t *testing.T, predictor prediction.Service, history prediction.HistoryService, proxyCfg *config.ProxyConfig) *http.Server {
	t.Helper()
	cfg := testConfig()
	if proxyCfg != nil {
		cfg.Proxy = *proxyCfg
	}
	logger := newTestLogger()
	return NewRouter(cfg, NewHandler(predictor, history, logger), NewProxyHandler(cfg.Proxy, logger), logger)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeErrorBody(t *testing.T, raw []byte) map[string]map[string]string {
	t.Helper()
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

type stubPredictor struct {
	predictFn func(ctx context.Context, in prediction.PredictionInput) (prediction.PredictionResult, error)
	calls     int
}

func (s *stubPredictor) Predict(ctx context.Context, in prediction.PredictionInput) (prediction.PredictionResult, error) {
	s.calls++
	if s.predictFn != nil {
		return s.predictFn(ctx, in)
	}
	return prediction.PredictionResult{}, nil
}

type stubHistory struct {
	listFn   func(ctx context.Context, f prediction.HistoryFilters) (prediction.Page, error)
	getFn    func(ctx context.Context, id string) (prediction.PredictionResult, error)
	exportFn func(ctx context.Context, format prediction.ExportFormat) (prediction.ExportBlob, error)
	settings map[string]json.RawMessage
	deleted  []string
	clears   int
}

func (s *stubHistory) List(ctx context.Context, f prediction.HistoryFilters) (prediction.Page, error) {
	if s.listFn != nil {
		return s.listFn(ctx, f)
	}
	return prediction.Page{Data: []prediction.PredictionResult{}}, nil
}

func (s *stubHistory) Get(ctx context.Context, id string) (prediction.PredictionResult, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return prediction.PredictionResult{ID: id}, nil
}

func (s *stubHistory) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubHistory) Clear(context.Context) error {
	s.clears++
	return nil
}

func (s *stubHistory) Summary(context.Context) (prediction.Summary, error) {
	return prediction.Summary{}, nil
}

func (s *stubHistory) Export(ctx context.Context, format prediction.ExportFormat) (prediction.ExportBlob, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, format)
	}
	return prediction.ExportBlob{}, nil
}

func (s *stubHistory) PutSetting(_ context.Context, key string, value json.RawMessage) error {
	s.settings[key] = value
	return nil
}

func (s *stubHistory) GetSetting(_ context.Context, key string) (json.RawMessage, error) {
	v, ok := s.settings[key]
	if !ok {
		return nil, apperrors.Wrap(prediction.CodeNotFound, "setting not found", nil)
	}
	return v, nil
}

func (s *stubHistory) Status() prediction.StoreStatus {
	return prediction.StoreStatus{Backend: "primary", Driver: "sqlite"}
}
