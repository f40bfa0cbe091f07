package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardiopredict/riskdash/internal/infra/config"
	"github.com/cardiopredict/riskdash/pkg/metrics"
)

const proxyBodyLimit = 1 << 20

// ProxyHandler relays scoring requests from the dashboard origin to the
// remote scoring host, so the browser never calls it cross-origin.
type ProxyHandler struct {
	target     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProxyHandler builds the relay for cfg.UpstreamURL + cfg.UpstreamPath.
func NewProxyHandler(cfg config.ProxyConfig, logger *slog.Logger) *ProxyHandler {
	path := cfg.UpstreamPath
	if path == "" {
		path = "/predict"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &ProxyHandler{
		target:     strings.TrimRight(cfg.UpstreamURL, "/") + path,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "http.proxy"),
	}
}

// Predict forwards the JSON body and replies with the upstream status. A
// non-JSON upstream body is wrapped as {"raw": text}; any local failure is
// reported as 500 {"error": text}.
func (p *ProxyHandler) Predict(c *gin.Context) {
	status, body, err := p.forward(c.Request.Context(), c.Request.Body)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("error").Inc()
		p.logger.Warn("proxy request failed", "target", p.target, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.ProxyRequests.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
	if json.Valid(body) {
		c.Data(status, "application/json", body)
		return
	}
	c.JSON(status, gin.H{"raw": string(body)})
}

func (p *ProxyHandler) forward(ctx context.Context, in io.Reader) (int, []byte, error) {
	raw, err := io.ReadAll(io.LimitReader(in, proxyBodyLimit))
	if err != nil {
		return 0, nil, fmt.Errorf("read request body: %w", err)
	}
	// re-encode so only well-formed JSON reaches the upstream
	var payload json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, nil, fmt.Errorf("decode request body: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.target, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, proxyBodyLimit))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp.StatusCode, body, nil
}
