package rerank

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
	"github.com/corterra/answerd/internal/textutil"
	"github.com/corterra/answerd/internal/tracing"
)

// Mode identifies which scoring path produced the rerank scores.
type Mode string

const (
	ModeCrossEncoder    Mode = "cross_encoder"
	ModeLexicalFallback Mode = "lexical_fallback"
)

// Scorer assigns a relevance score in [0,1] to each passage for a query.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Config controls the cross-encoder client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPScorer calls the cross-encoder sidecar.
type HTTPScorer struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
}

func NewHTTPScorer(cfg Config, logger *zap.Logger) *HTTPScorer {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	return &HTTPScorer{
		cfg:   c,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "reranker", "rerank", logger),
	}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}

	url := fmt.Sprintf("%s/rerank", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(rerankRequest{Query: query, Passages: passages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, err
	}
	if len(rr.Scores) != len(passages) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages", len(rr.Scores), len(passages))
	}
	for i, sc := range rr.Scores {
		rr.Scores[i] = clamp01(sc)
	}
	return rr.Scores, nil
}

// LexicalScorer is the degraded path: content-token Jaccard overlap with a
// bonus when the passage contains the query as a contiguous phrase.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, query string, passages []string) ([]float64, error) {
	qset := textutil.ContentTokenSet(query)
	scores := make([]float64, len(passages))
	for i, p := range passages {
		sc := textutil.Jaccard(qset, textutil.ContentTokenSet(p))
		if textutil.ContainsPhrase(p, query) {
			sc += 0.2
		}
		scores[i] = clamp01(sc)
	}
	return scores, nil
}

// Reranker scores passages with the cross-encoder and degrades to lexical
// overlap when the sidecar is down or slow. The caller learns which path
// ran from the returned Mode.
type Reranker struct {
	primary  Scorer
	fallback Scorer
	logger   *zap.Logger
}

func New(primary Scorer, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{primary: primary, fallback: LexicalScorer{}, logger: logger}
}

// ConfiguredMode reports the path Score would take before any runtime
// degradation: cross-encoder when a primary scorer is wired, lexical
// overlap otherwise.
func (r *Reranker) ConfiguredMode() Mode {
	if r.primary != nil {
		return ModeCrossEncoder
	}
	return ModeLexicalFallback
}

func (r *Reranker) Score(ctx context.Context, query string, passages []string) ([]float64, Mode, error) {
	if r.primary != nil {
		scores, err := r.primary.Score(ctx, query, passages)
		if err == nil {
			metrics.RerankRequests.WithLabelValues(string(ModeCrossEncoder), "ok").Inc()
			return scores, ModeCrossEncoder, nil
		}
		// Total-deadline expiry is not recoverable by falling back
		if ctx.Err() != nil {
			metrics.RerankRequests.WithLabelValues(string(ModeCrossEncoder), "error").Inc()
			return nil, ModeCrossEncoder, ctx.Err()
		}
		r.logger.Warn("cross-encoder unavailable, using lexical overlap",
			zap.Error(err),
			zap.Int("passages", len(passages)),
		)
	}

	scores, err := r.fallback.Score(ctx, query, passages)
	if err != nil {
		metrics.RerankRequests.WithLabelValues(string(ModeLexicalFallback), "error").Inc()
		return nil, ModeLexicalFallback, err
	}
	metrics.RerankRequests.WithLabelValues(string(ModeLexicalFallback), "ok").Inc()
	metrics.DegradedResponses.WithLabelValues("rerank_fallback").Inc()
	return scores, ModeLexicalFallback, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
