package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/circuitbreaker"
	"github.com/corterra/answerd/internal/metrics"
	"github.com/corterra/answerd/internal/tracing"
)

// Source is one external citation.
type Source struct {
	URI   string  `json:"uri"`
	Score float64 `json:"score,omitempty"`
}

// Answer is the external agent's response.
type Answer struct {
	Text       string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources,omitempty"`
}

// Config controls the external knowledge agent client.
type Config struct {
	BaseURL string
	// Timeout bounds a single call; the orchestrator additionally applies
	// the stage deadline through the context.
	Timeout time.Duration
}

// Client consults the external knowledge agent when local confidence is
// low. Calls are fully cancellable: when the caller's context expires the
// request is abandoned and the agent's eventual result discarded.
type Client struct {
	cfg    Config
	httpw  *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	return &Client{
		cfg:    c,
		httpw:  circuitbreaker.NewHTTPWrapper(httpClient, "external_agent", "external", logger),
		logger: logger,
	}
}

type queryRequest struct {
	Query string `json:"query"`
	// Hint carries the local answer's topic so the agent can focus.
	Hint string `json:"hint,omitempty"`
}

// Query asks the external agent. Returns the agent's answer, or an error
// on timeout, open breaker, or malformed response.
func (c *Client) Query(ctx context.Context, query, hint string) (*Answer, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/query", c.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(queryRequest{Query: query, Hint: hint})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		status := "error"
		if ctx.Err() != nil {
			status = "timeout"
		}
		metrics.RecordExternalMetrics(status, time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordExternalMetrics("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("external agent status %d", resp.StatusCode)
	}

	var a Answer
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		metrics.RecordExternalMetrics("error", time.Since(start).Seconds())
		return nil, err
	}
	if a.Text == "" {
		metrics.RecordExternalMetrics("empty", time.Since(start).Seconds())
		return nil, fmt.Errorf("external agent returned empty answer")
	}
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	if len(a.Sources) == 0 && a.Confidence > 0 {
		// Unsourced claims carry no weight in the merge
		c.logger.Warn("external agent claimed confidence without sources",
			zap.Float64("claimed", a.Confidence))
		a.Confidence = 0
	}

	metrics.RecordExternalMetrics("ok", time.Since(start).Seconds())
	return &a, nil
}
