package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
)

const (
	defaultPath  = "/api/backend/predict"
	maxBodyBytes = 1 << 20
)

// Client posts wire-format inputs to the scoring endpoint. It performs a
// single call; retry policy belongs to the prediction pipeline.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a client for baseURL+path. A nil httpClient uses a
// client without its own timeout, since each call carries a deadline.
func NewClient(baseURL, path string, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("scoring base url is required")
	}
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: base + path, httpClient: httpClient}, nil
}

// Endpoint returns the URL the client posts to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Score sends one request. Any HTTP answer is returned as a response; only
// transport failures are errors.
func (c *Client) Score(ctx context.Context, input prediction.WireInput) (prediction.UpstreamResponse, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return prediction.UpstreamResponse{}, fmt.Errorf("encode scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return prediction.UpstreamResponse{}, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return prediction.UpstreamResponse{}, fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return prediction.UpstreamResponse{}, fmt.Errorf("read scoring response: %w", err)
	}
	return prediction.UpstreamResponse{StatusCode: resp.StatusCode, Body: body}, nil
}
