package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/circuitbreaker"
	"github.com/corterra/answerd/internal/tracing"
)

// RuntimeConfig controls the generation sidecar client.
type RuntimeConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPRuntime calls the generation sidecar's /generate endpoint.
type HTTPRuntime struct {
	cfg   RuntimeConfig
	httpw *circuitbreaker.HTTPWrapper
}

func NewHTTPRuntime(cfg RuntimeConfig, logger *zap.Logger) *HTTPRuntime {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	return &HTTPRuntime{
		cfg:   c,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "generator", "generation", logger),
	}
}

func (r *HTTPRuntime) Sample(ctx context.Context, req SampleRequest) (*SampleResult, error) {
	url := fmt.Sprintf("%s/generate", r.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := r.httpw.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generator status %d", resp.StatusCode)
	}

	var res SampleResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	if res.Text == "" {
		return nil, fmt.Errorf("generator returned empty text")
	}
	return &res, nil
}
