package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/corterra/answerd/internal/metrics"
	"github.com/corterra/answerd/internal/tracing"
)

// Service embeds query and passage text through the embedding sidecar,
// with an in-process LRU in front of an optional shared Redis cache.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *LocalLRU
}

func NewService(cfg Config, cache Cache) *Service {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	return &Service{
		cfg:   c,
		http:  &http.Client{Timeout: c.Timeout},
		cache: cache,
		lru:   NewLocalLRU(c.MaxLRU),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the unit-normalized vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	m := s.cfg.DefaultModel
	key := MakeKey(m, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			metrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
			return v, nil
		}
	}

	vecs, err := s.fetch(ctx, []string{text}, m)
	if err != nil {
		return nil, err
	}
	v := vecs[0]

	s.lru.Set(ctx, key, v, 30*time.Minute)
	if s.cache != nil {
		s.cache.Set(ctx, key, v, s.cfg.CacheTTL)
	}
	return v, nil
}

// EmbedBatch embeds multiple texts in one request, consulting caches per text.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := s.cfg.DefaultModel

	results := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, 30*time.Minute)
				metrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				continue
			}
		}
		uncached = append(uncached, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, uncached, m)
	if err != nil {
		return nil, err
	}

	for i, v := range vecs {
		results[uncachedIdx[i]] = v
		key := MakeKey(m, uncached[i])
		s.lru.Set(ctx, key, v, 30*time.Minute)
		if s.cache != nil {
			s.cache.Set(ctx, key, v, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(embedRequest{Texts: texts, Model: model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		if s.cfg.Dimensions > 0 && len(emb) != s.cfg.Dimensions {
			metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(emb), s.cfg.Dimensions)
		}
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = Normalize(v)
	}

	metrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	return out, nil
}

// Normalize scales v to unit L2 norm so dot product equals cosine
// similarity downstream. Zero vectors pass through unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
