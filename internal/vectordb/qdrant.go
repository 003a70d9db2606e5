package vectordb

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

// Client is a minimal Qdrant HTTP client
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Collection == "" {
		c.Collection = "document_chunks"
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger)
	return &Client{
		cfg:   c,
		base:  fmt.Sprintf("http://%s:%d", c.Host, c.Port),
		httpw: httpw,
		log:   logger,
	}
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Search queries the collection. On a transient failure it retries once
// with a halved limit before giving up.
func (c *Client) Search(ctx context.Context, vec []float32, limit int, threshold float64, scopeID string) ([]Hit, error) {
	points, err := c.search(ctx, vec, limit, threshold, scopeID)
	if err != nil && ctx.Err() == nil && limit > 1 {
		points, err = c.search(ctx, vec, limit/2, threshold, scopeID)
	}
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, pointToHit(p))
	}
	return hits, nil
}

func (c *Client) search(ctx context.Context, vec []float32, limit int, threshold float64, scopeID string) ([]qdrantPoint, error) {
	start := time.Now()

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	var filter map[string]interface{}
	if scopeID != "" {
		filter = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "scope_id", "match": map[string]interface{}{"value": scopeID}},
			},
		}
	}
	reqBody := qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)
		return c.httpw.Do(req)
	}

	resp, err := call(urlQuery, buf)
	if err != nil {
		metrics.RecordVectorSearchMetrics("qdrant", "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Fallback to legacy /points/search for older Qdrant versions
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, c.cfg.Collection)
		legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
		if threshold > 0 {
			legacy["score_threshold"] = threshold
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			metrics.RecordVectorSearchMetrics("qdrant", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.RecordVectorSearchMetrics("qdrant", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var qr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&qr); err != nil {
			metrics.RecordVectorSearchMetrics("qdrant", "error", time.Since(start).Seconds())
			return nil, err
		}
		metrics.RecordVectorSearchMetrics("qdrant", "ok", time.Since(start).Seconds())
		return qr.Result, nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordVectorSearchMetrics("qdrant", "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearchMetrics("qdrant", "ok", time.Since(start).Seconds())
	return qr.Result.Points, nil
}

// Upsert inserts or updates points in the collection
func (c *Client) Upsert(ctx context.Context, points []UpsertItem) error {
	url := fmt.Sprintf("%s/collections/%s/points", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	buf, _ := json.Marshal(map[string]interface{}{"points": points})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	var r UpsertResponse
	return json.NewDecoder(resp.Body).Decode(&r)
}

// HealthCheck hits the collection info endpoint
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant collection check status %d", resp.StatusCode)
	}
	return nil
}

func pointToHit(p qdrantPoint) Hit {
	h := Hit{
		ID:       fmt.Sprintf("%v", p.ID),
		Score:    p.Score,
		Metadata: p.Payload,
	}
	if p.Payload != nil {
		if v, ok := p.Payload["source_id"].(string); ok {
			h.SourceID = v
		}
		if v, ok := p.Payload["chunk_index"].(float64); ok {
			h.ChunkIndex = int(v)
		}
		if v, ok := p.Payload["text"].(string); ok {
			h.Text = v
		}
	}
	return h
}
